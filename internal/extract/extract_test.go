package extract_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"veritas/internal/collaborators/llmextract"
	"veritas/internal/collaborators/nli"
	"veritas/internal/extract"
	"veritas/internal/model"
	"veritas/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "veritas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTask(t *testing.T, s *store.Store, hypothesis string) string {
	t.Helper()
	task := &model.Task{CentralHypothesis: hypothesis, Status: model.TaskExploring}
	require.NoError(t, s.CreateTask(task))
	return task.ID
}

func newTestPage(t *testing.T, s *store.Store, url string) *model.Page {
	t.Helper()
	page, err := s.UpsertPage(&model.Page{URL: url, Title: "A Study of Things"})
	require.NoError(t, err)
	return page
}

type fakeLLM struct {
	fragmentDrafts []llmextract.FragmentDraft
	fragmentErr    error
	fragmentCalls  int

	claimDrafts []llmextract.ClaimDraft
	claimErr    error
	claimCalls  int
}

func (f *fakeLLM) ExtractFragments(ctx context.Context, pageTitle, pageText string) ([]llmextract.FragmentDraft, error) {
	f.fragmentCalls++
	if f.fragmentErr != nil {
		return nil, f.fragmentErr
	}
	return f.fragmentDrafts, nil
}

func (f *fakeLLM) ExtractClaims(ctx context.Context, centralHypothesis string, fragments []llmextract.FragmentDraft) ([]llmextract.ClaimDraft, error) {
	f.claimCalls++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claimDrafts, nil
}

type fakeNLI struct {
	results []nli.Result
	err     error
	calls   int
	lastLen int
}

func (f *fakeNLI) Classify(ctx context.Context, premise, hypothesis string) (nli.Result, error) {
	if f.err != nil {
		return nli.Result{}, f.err
	}
	if len(f.results) > 0 {
		return f.results[0], nil
	}
	return nli.Result{Label: "neutral", RawScore: 0.5}, nil
}

func (f *fakeNLI) ClassifyBatch(ctx context.Context, pairs []nli.Pair) ([]nli.Result, error) {
	f.calls++
	f.lastLen = len(pairs)
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results, nil
	}
	out := make([]nli.Result, len(pairs))
	for i := range pairs {
		out[i] = nli.Result{Label: "supports", RawScore: 0.9}
	}
	return out, nil
}

type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, f.dims)
		for j := range vec {
			if j < len(t) {
				vec[j] = float32(t[j]) / 255
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func TestProcessPageAbstractSkipsSegmentation(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s, "hypothesis")
	page := newTestPage(t, s, "https://doi.org/10.1/x")

	require.NoError(t, s.CreateFragment(&model.Fragment{
		PageID:       page.ID,
		FragmentType: model.FragmentAbstract,
		TextContent:  "this paper shows X causes Y",
		Position:     0,
	}))

	llm := &fakeLLM{claimDrafts: []llmextract.ClaimDraft{
		{FragmentIndex: 0, ClaimText: "X causes Y", ClaimType: model.ClaimCausal, Granularity: model.ClaimAtomic, Confidence: 0.8},
	}}
	classifier := &fakeNLI{}
	emb := &fakeEmbedder{dims: 4}

	ex := extract.New(s, llm, classifier, emb, extract.Config{})
	n, err := ex.ProcessPage(context.Background(), taskID, page)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, llm.fragmentCalls, "abstract fragment should not be re-segmented")
	require.Equal(t, 1, llm.claimCalls)

	claims, err := s.ClaimsByTask(taskID)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, taskID, claims[0].TaskID)

	edges, err := s.EdgesByClaim(claims[0].ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, model.RelationSupports, edges[0].Relation)
}

func TestProcessPageRawContentIsSegmentedAndReplaced(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s, "hypothesis")
	page := newTestPage(t, s, "https://example.test/article")

	require.NoError(t, s.CreateFragment(&model.Fragment{
		PageID:       page.ID,
		FragmentType: model.FragmentParagraph,
		TextContent:  "raw fetched body text, unsegmented",
		Position:     0,
	}))

	llm := &fakeLLM{
		fragmentDrafts: []llmextract.FragmentDraft{
			{FragmentType: model.FragmentHeading, TextContent: "Intro"},
			{FragmentType: model.FragmentParagraph, TextContent: "X causes Y in all trials"},
		},
	}
	classifier := &fakeNLI{}
	ex := extract.New(s, llm, classifier, nil, extract.Config{})

	n, err := ex.ProcessPage(context.Background(), taskID, page)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, llm.fragmentCalls)

	fragments, err := s.FragmentsByPage(page.ID)
	require.NoError(t, err)
	require.Len(t, fragments, 2, "raw placeholder should be deleted and replaced")
	require.Equal(t, "Intro", fragments[0].TextContent)
}

func TestProcessPageEmptyRawFragmentsIsNoOp(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s, "hypothesis")
	page := newTestPage(t, s, "https://example.test/empty")

	llm := &fakeLLM{}
	ex := extract.New(s, llm, &fakeNLI{}, nil, extract.Config{})

	n, err := ex.ProcessPage(context.Background(), taskID, page)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 0, llm.fragmentCalls)
}

func TestProcessPageClaimExtractionFailureIsSwallowed(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s, "hypothesis")
	page := newTestPage(t, s, "https://doi.org/10.2/y")

	require.NoError(t, s.CreateFragment(&model.Fragment{
		PageID:       page.ID,
		FragmentType: model.FragmentAbstract,
		TextContent:  "abstract text",
		Position:     0,
	}))

	llm := &fakeLLM{claimErr: context.DeadlineExceeded}
	ex := extract.New(s, llm, &fakeNLI{}, nil, extract.Config{})

	n, err := ex.ProcessPage(context.Background(), taskID, page)
	require.NoError(t, err, "claim extraction failure must not abort the whole page")
	require.Equal(t, 1, n)

	claims, err := s.ClaimsByTask(taskID)
	require.NoError(t, err)
	require.Empty(t, claims)
}

func TestProcessPageNoClaimsSkipsJudging(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s, "hypothesis")
	page := newTestPage(t, s, "https://doi.org/10.3/z")

	require.NoError(t, s.CreateFragment(&model.Fragment{
		PageID:       page.ID,
		FragmentType: model.FragmentAbstract,
		TextContent:  "abstract text",
		Position:     0,
	}))

	llm := &fakeLLM{}
	classifier := &fakeNLI{}
	ex := extract.New(s, llm, classifier, nil, extract.Config{})

	n, err := ex.ProcessPage(context.Background(), taskID, page)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, classifier.calls, "no claims means no NLI pairs to classify")
}

func TestJudgeBoundsCandidatePairsByConfig(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s, "hypothesis")
	page := newTestPage(t, s, "https://doi.org/10.4/w")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateFragment(&model.Fragment{
			PageID:       page.ID,
			FragmentType: model.FragmentParagraph,
			TextContent:  "paragraph content",
			Position:     i,
			Embedding:    []float32{float32(i), 0, 0, 0},
		}))
	}

	llm := &fakeLLM{claimDrafts: []llmextract.ClaimDraft{
		{FragmentIndex: 0, ClaimText: "claim one", ClaimType: model.ClaimFactual, Granularity: model.ClaimAtomic, Confidence: 0.7},
	}}
	classifier := &fakeNLI{}
	ex := extract.New(s, llm, classifier, nil, extract.Config{MaxNLIPairsPerClaim: 2, EmbeddingTopK: 8})

	_, err := ex.ProcessPage(context.Background(), taskID, page)
	require.NoError(t, err)
	require.Equal(t, 2, classifier.lastLen, "candidate pairs must be capped by MaxNLIPairsPerClaim")
}

func TestHandleVerifyNLISkipsClaimsWithSingleSourcePage(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s, "hypothesis")
	page := newTestPage(t, s, "https://doi.org/10.5/v")

	frag := &model.Fragment{PageID: page.ID, FragmentType: model.FragmentParagraph, TextContent: "text", Position: 0}
	require.NoError(t, s.CreateFragment(frag))

	claim := &model.Claim{TaskID: taskID, ClaimText: "a claim", ClaimType: model.ClaimFactual, Granularity: model.ClaimAtomic}
	require.NoError(t, s.CreateClaim(claim))

	_, err := s.UpsertJudgementEdge(&model.Edge{
		SourceType: model.EntityFragment, SourceID: frag.ID,
		TargetType: model.EntityClaim, TargetID: claim.ID,
		Relation: model.RelationSupports, NLILabel: "supports", NLIConfidence: 0.9,
	})
	require.NoError(t, err)

	classifier := &fakeNLI{}
	ex := extract.New(s, nil, classifier, nil, extract.Config{})

	_, err = ex.Handle(context.Background(), &model.Job{TaskID: taskID, Kind: model.JobVerifyNLI})
	require.NoError(t, err)
	require.Equal(t, 0, classifier.calls, "single source page should not trigger re-verification")
}

func TestHandleVerifyNLIReclassifiesCrossSourceClaims(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s, "hypothesis")
	pageA := newTestPage(t, s, "https://doi.org/10.6/a")
	pageB := newTestPage(t, s, "https://doi.org/10.6/b")

	fragA := &model.Fragment{PageID: pageA.ID, FragmentType: model.FragmentParagraph, TextContent: "supports it", Position: 0}
	fragB := &model.Fragment{PageID: pageB.ID, FragmentType: model.FragmentParagraph, TextContent: "refutes it", Position: 0}
	require.NoError(t, s.CreateFragment(fragA))
	require.NoError(t, s.CreateFragment(fragB))

	claim := &model.Claim{TaskID: taskID, ClaimText: "a cross-source claim", ClaimType: model.ClaimFactual, Granularity: model.ClaimAtomic}
	require.NoError(t, s.CreateClaim(claim))

	_, err := s.UpsertJudgementEdge(&model.Edge{
		SourceType: model.EntityFragment, SourceID: fragA.ID,
		TargetType: model.EntityClaim, TargetID: claim.ID,
		Relation: model.RelationSupports, NLILabel: "supports", NLIConfidence: 0.6,
	})
	require.NoError(t, err)
	_, err = s.UpsertJudgementEdge(&model.Edge{
		SourceType: model.EntityFragment, SourceID: fragB.ID,
		TargetType: model.EntityClaim, TargetID: claim.ID,
		Relation: model.RelationNeutral, NLILabel: "neutral", NLIConfidence: 0.5,
	})
	require.NoError(t, err)

	classifier := &fakeNLI{results: []nli.Result{
		{Label: "supports", RawScore: 0.95},
		{Label: "refutes", RawScore: 0.85},
	}}
	ex := extract.New(s, nil, classifier, nil, extract.Config{})

	_, err = ex.Handle(context.Background(), &model.Job{TaskID: taskID, Kind: model.JobVerifyNLI})
	require.NoError(t, err)
	require.Equal(t, 1, classifier.calls)
	require.Equal(t, 2, classifier.lastLen)

	edges, err := s.EdgesByClaim(claim.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2, "re-judging replaces in place, never duplicates")
}
