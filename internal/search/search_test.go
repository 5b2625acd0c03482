package search

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"veritas/internal/authqueue"
	"veritas/internal/collaborators/academic"
	"veritas/internal/collaborators/browser"
	"veritas/internal/collaborators/fetch"
	"veritas/internal/model"
	"veritas/internal/scheduler"
	"veritas/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "veritas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTask(t *testing.T, s *store.Store) string {
	t.Helper()
	task := &model.Task{CentralHypothesis: "x causes y", Status: model.TaskExploring}
	require.NoError(t, s.CreateTask(task))
	return task.ID
}

func newTestJob(t *testing.T, s *store.Store, taskID string, target model.Target) *model.Job {
	t.Helper()
	raw, err := json.Marshal(target)
	require.NoError(t, err)
	job := &model.Job{TaskID: taskID, Kind: model.JobTargetQueue, Priority: model.PriorityHigh, Input: string(raw)}
	id, _, err := s.CreateJob(job, "")
	require.NoError(t, err)
	job.ID = id
	return job
}

type fakeAcademic struct {
	byDOI       map[string]*academic.PaperRecord
	byQuery     map[string][]academic.PaperRecord
	lookupCalls int
}

func (f *fakeAcademic) LookupDOIByPMID(ctx context.Context, pmid string) (string, error) { return "", nil }
func (f *fakeAcademic) LookupDOIByArxivID(ctx context.Context, arxivID string) (string, error) {
	return "", nil
}
func (f *fakeAcademic) GetByDOI(ctx context.Context, doi string) (*academic.PaperRecord, error) {
	f.lookupCalls++
	if rec, ok := f.byDOI[doi]; ok {
		return rec, nil
	}
	return nil, nil
}
func (f *fakeAcademic) SearchByQuery(ctx context.Context, query string, limit int) ([]academic.PaperRecord, error) {
	return f.byQuery[query], nil
}
func (f *fakeAcademic) GetReferences(ctx context.Context, doi string) ([]academic.PaperRecord, error) {
	return nil, nil
}

type fakeBrowser struct {
	results       []browser.SERPResult
	challenge     browser.ChallengeType
	searchCalls   int
}

func (f *fakeBrowser) Search(ctx context.Context, query, engine string) ([]browser.SERPResult, browser.ChallengeType, error) {
	f.searchCalls++
	if f.challenge != browser.ChallengeNone {
		return nil, f.challenge, nil
	}
	return f.results, browser.ChallengeNone, nil
}
func (f *fakeBrowser) DetectChallenge(ctx context.Context, url string) (browser.ChallengeType, error) {
	return browser.ChallengeNone, nil
}
func (f *fakeBrowser) Close() error { return nil }

type fakeFetcher struct {
	result *fetch.Result
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeExtractor struct {
	fragmentCount int
	err           error
	calls         []string
}

func (f *fakeExtractor) ProcessPage(ctx context.Context, taskID string, page *model.Page) (int, error) {
	f.calls = append(f.calls, page.ID)
	return f.fragmentCount, f.err
}

func newLimiters() *scheduler.Limiters { return scheduler.NewLimiters(nil) }

func TestHandleDOIPersistsAbstractWithoutFetching(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetDOI, Value: "10.1/abc"})

	ac := &fakeAcademic{byDOI: map[string]*academic.PaperRecord{
		"10.1/abc": {DOI: "10.1/abc", Title: "A Paper", SourceAPI: "semantic_scholar", HasAbstract: true, AbstractText: "the abstract"},
	}}
	fetcher := &fakeFetcher{}
	extractor := &fakeExtractor{fragmentCount: 1}

	p := New(s, ac, nil, fetcher, extractor, newLimiters(), scheduler.NewBrowserSlot(), Config{})
	target, err := decodeTarget(job.Input)
	require.NoError(t, err)

	pages, err := p.handleDOI(context.Background(), job, target)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, model.PageAcademic, pages[0].PageType)

	frags, err := s.FragmentsByPage(pages[0].ID)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.Equal(t, model.FragmentAbstract, frags[0].FragmentType)
}

func TestHandleDOINotFoundReturnsNoPages(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetDOI, Value: "10.1/missing"})

	ac := &fakeAcademic{byDOI: map[string]*academic.PaperRecord{}}
	p := New(s, ac, nil, &fakeFetcher{}, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})

	pages, err := p.handleDOI(context.Background(), job, model.Target{Kind: model.TargetDOI, Value: "10.1/missing"})
	require.NoError(t, err)
	require.Empty(t, pages)
}

func TestHandleURLRoutesDOIToFastPath(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetURL, Value: "https://doi.org/10.1/abc"})

	ac := &fakeAcademic{byDOI: map[string]*academic.PaperRecord{
		"10.1/abc": {DOI: "10.1/abc", Title: "A Paper", SourceAPI: "openalex", HasAbstract: true, AbstractText: "abs"},
	}}
	p := New(s, ac, nil, &fakeFetcher{}, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})

	pages, err := p.handleURL(context.Background(), job, model.Target{Kind: model.TargetURL, Value: "https://doi.org/10.1/abc"})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, 1, ac.lookupCalls)
}

func TestHandleURLFetchesDirectlyWhenNoIdentifier(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetURL, Value: "https://example.com/article"})

	fetcher := &fakeFetcher{result: &fetch.Result{FinalURL: "https://example.com/article", StatusCode: 200, Title: "Example", TextContent: "body text"}}
	p := New(s, nil, nil, fetcher, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})

	pages, err := p.handleURL(context.Background(), job, model.Target{Kind: model.TargetURL, Value: "https://example.com/article"})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "Example", pages[0].Title)

	frags, err := s.FragmentsByPage(pages[0].ID)
	require.NoError(t, err)
	require.Len(t, frags, 1)
}

func TestHandleURLRedirectedToLoginCreatesAuthItem(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetURL, Value: "https://paywalled.example/article"})

	fetcher := &fakeFetcher{result: &fetch.Result{FinalURL: "https://paywalled.example/login", RedirectedToLogin: true}}
	p := New(s, nil, nil, fetcher, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})

	_, err := p.handleURL(context.Background(), job, model.Target{Kind: model.TargetURL, Value: "https://paywalled.example/article"})
	require.Error(t, err)
	require.True(t, isChallenge(err))

	items, err := s.PendingAuthItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "paywalled.example", items[0].Domain)
}

func TestHandleURLRedirectedToLoginTripsBreaker(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetURL, Value: "https://paywalled.example/article"})

	fetcher := &fakeFetcher{result: &fetch.Result{FinalURL: "https://paywalled.example/login", RedirectedToLogin: true}}
	p := New(s, nil, nil, fetcher, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})
	breaker := authqueue.NewCircuitBreaker()
	p.Breaker = breaker

	_, err := p.handleURL(context.Background(), job, model.Target{Kind: model.TargetURL, Value: "https://paywalled.example/article"})
	require.Error(t, err)
	require.True(t, breaker.IsTripped("paywalled.example"))
}

func TestFetchPageBodySkipsDialWhenBreakerTripped(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetURL, Value: "https://blocked.example/article"})

	fetcher := &fakeFetcher{result: &fetch.Result{FinalURL: "https://blocked.example/article", TextContent: "body"}}
	p := New(s, nil, nil, fetcher, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})
	breaker := authqueue.NewCircuitBreaker()
	breaker.Trip("blocked.example")
	p.Breaker = breaker

	page := &model.Page{ID: "p1", URL: "https://blocked.example/article", Domain: "blocked.example"}
	err := p.fetchPageBody(context.Background(), job, page)
	require.Error(t, err)
	require.True(t, isChallenge(err))
	require.Equal(t, 0, fetcher.calls, "a tripped breaker must short-circuit before ever dialing the domain")

	items, err := s.PendingAuthItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "circuit_open", items[0].ChallengeType)
}

func TestHandleQueryEmptyQueryIsNoOp(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetQuery, Value: "   "})

	p := New(s, nil, nil, nil, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})
	pages, err := p.handleQuery(context.Background(), job, model.Target{Kind: model.TargetQuery, Value: "   "})
	require.NoError(t, err)
	require.Empty(t, pages)
}

func TestHandleQueryMergesSerpAndAcademicArms(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetQuery, Value: "gene expression"})

	ac := &fakeAcademic{
		byQuery: map[string][]academic.PaperRecord{
			"gene expression": {{DOI: "10.1/ge", Title: "Gene Expression Review", SourceAPI: "semantic_scholar", HasAbstract: true, AbstractText: "abs"}},
		},
	}
	br := &fakeBrowser{results: []browser.SERPResult{
		{Rank: 1, Title: "Blog Post", URL: "https://blog.example/gene-expression"},
	}}
	fetcher := &fakeFetcher{result: &fetch.Result{FinalURL: "https://blog.example/gene-expression", TextContent: "some text"}}

	p := New(s, ac, br, fetcher, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})
	pages, err := p.handleQuery(context.Background(), job, model.Target{Kind: model.TargetQuery, Value: "gene expression"})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, 2, br.searchCalls, "one Search call per default engine (duckduckgo, bing)")
}

func TestHandleQuerySkipsChallengedSerpEngineButKeepsAcademicResults(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetQuery, Value: "climate models"})

	ac := &fakeAcademic{byQuery: map[string][]academic.PaperRecord{
		"climate models": {{DOI: "10.1/cm", Title: "Climate Models", SourceAPI: "openalex", HasAbstract: true, AbstractText: "abs"}},
	}}
	br := &fakeBrowser{challenge: browser.ChallengeCaptcha}

	p := New(s, ac, br, &fakeFetcher{}, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})
	pages, err := p.handleQuery(context.Background(), job, model.Target{Kind: model.TargetQuery, Value: "climate models"})
	require.NoError(t, err)
	require.Len(t, pages, 1)
}

func TestRunSERPArmTripsBreakerOnChallengeAndSkipsEngineNextTime(t *testing.T) {
	s := newTestStore(t)
	br := &fakeBrowser{challenge: browser.ChallengeCaptcha}
	p := New(s, nil, br, &fakeFetcher{}, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{Engines: []string{"duckduckgo"}})
	breaker := authqueue.NewCircuitBreaker()
	p.Breaker = breaker

	_, err := p.runSERPArm(context.Background(), "climate models")
	require.NoError(t, err)
	require.True(t, breaker.IsTripped("duckduckgo.com"))

	items, err := s.PendingAuthItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "duckduckgo.com", items[0].Domain)

	callsBefore := br.searchCalls
	_, err = p.runSERPArm(context.Background(), "climate models")
	require.NoError(t, err)
	require.Equal(t, callsBefore, br.searchCalls, "a tripped engine domain must be skipped without calling Search again")
}

func TestHandleMarksZeroFragmentPageEmpty(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetDOI, Value: "10.1/empty"})

	ac := &fakeAcademic{byDOI: map[string]*academic.PaperRecord{
		"10.1/empty": {DOI: "10.1/empty", Title: "No Abstract Paper", SourceAPI: "crossref", HasAbstract: false},
	}}
	fetcher := &fakeFetcher{result: &fetch.Result{FinalURL: "https://doi.org/10.1/empty", TextContent: ""}}
	extractor := &fakeExtractor{fragmentCount: 0}

	p := New(s, ac, nil, fetcher, extractor, newLimiters(), scheduler.NewBrowserSlot(), Config{})
	result, err := p.Handle(context.Background(), job)
	require.NoError(t, err)
	require.Empty(t, result.FollowUps)

	page, err := s.GetPage(extractor.calls[0])
	require.NoError(t, err)
	require.Equal(t, model.PageEmpty, page.PageType)
}

func TestHandleEnqueuesFollowUpsForAcademicPages(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: model.TargetDOI, Value: "10.1/follow"})

	ac := &fakeAcademic{byDOI: map[string]*academic.PaperRecord{
		"10.1/follow": {DOI: "10.1/follow", Title: "Followed Paper", SourceAPI: "semantic_scholar", HasAbstract: true, AbstractText: "abs"},
	}}
	extractor := &fakeExtractor{fragmentCount: 2}

	p := New(s, ac, nil, &fakeFetcher{}, extractor, newLimiters(), scheduler.NewBrowserSlot(), Config{})
	result, err := p.Handle(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, result.FollowUps, 2)
	require.Equal(t, model.JobVerifyNLI, result.FollowUps[0].Kind)
	require.Equal(t, model.JobCitationGraph, result.FollowUps[1].Kind)
}

func TestDecodeTargetRejectsEmptyInput(t *testing.T) {
	_, err := decodeTarget("")
	require.Error(t, err)
}

func TestHandleRejectsUnknownTargetKind(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	job := newTestJob(t, s, taskID, model.Target{Kind: "bogus", Value: "x"})

	p := New(s, nil, nil, nil, nil, newLimiters(), scheduler.NewBrowserSlot(), Config{})
	_, err := p.Handle(context.Background(), job)
	require.Error(t, err)
}
