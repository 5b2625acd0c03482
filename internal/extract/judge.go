package extract

import (
	"context"
	"sort"

	"veritas/internal/collaborators/nli"
	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/store"
)

type candidate struct {
	claim      *model.Claim
	fragment   *model.Fragment
	similarity float64
}

// judge gates (fragment, claim) pairs by an embedding-similarity prefilter
// (top-K fragments per claim, capped at MaxNLIPairsPerClaim with
// lowest-similarity dropped first), then classifies the survivors through
// NLI and writes the resulting judgement edges (spec.md §4.5).
func (e *Extractor) judge(ctx context.Context, fragments []*model.Fragment, claims []*model.Claim) error {
	if e.NLI == nil || len(fragments) == 0 || len(claims) == 0 {
		return nil
	}

	var candidates []candidate
	for _, claim := range claims {
		top := e.topFragments(claim, fragments)
		for _, c := range top {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	pairs := make([]nli.Pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = nli.Pair{Premise: c.fragment.TextContent, Hypothesis: c.claim.ClaimText}
	}

	results, err := e.NLI.ClassifyBatch(ctx, pairs)
	if err != nil {
		return err
	}

	for i, c := range candidates {
		if i >= len(results) {
			break
		}
		r := results[i]
		if r.Label == "" {
			continue
		}
		edge := &model.Edge{
			SourceType:    model.EntityFragment,
			SourceID:      c.fragment.ID,
			TargetType:    model.EntityClaim,
			TargetID:      c.claim.ID,
			Relation:      model.EdgeRelation(r.Label),
			NLILabel:      r.Label,
			NLIConfidence: r.RawScore,
		}
		if _, err := e.store.UpsertJudgementEdge(edge); err != nil {
			logging.Extract("judgement edge write failed (fragment=%s claim=%s): %v", c.fragment.ID, c.claim.ID, err)
		}
	}
	return nil
}

// topFragments ranks a claim's candidate fragments by embedding cosine
// similarity (both embeddings computed by the same collaborator, so the
// comparison is meaningful) and keeps the best min(EmbeddingTopK,
// MaxNLIPairsPerClaim), dropping the rest lowest-similarity first.
func (e *Extractor) topFragments(claim *model.Claim, fragments []*model.Fragment) []candidate {
	scored := make([]candidate, 0, len(fragments))
	for _, f := range fragments {
		sim := store.CosineSimilarity(claim.Embedding, f.Embedding)
		scored = append(scored, candidate{claim: claim, fragment: f, similarity: sim})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].similarity > scored[j].similarity })

	limit := e.cfg.embeddingTopK()
	if max := e.cfg.maxNLIPairsPerClaim(); max < limit {
		limit = max
	}
	if limit > len(scored) {
		limit = len(scored)
	}
	return scored[:limit]
}
