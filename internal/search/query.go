package search

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"veritas/internal/apierr"
	"veritas/internal/collaborators/academic"
	"veritas/internal/collaborators/browser"
	"veritas/internal/idresolver"
	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/paperindex"
	"veritas/internal/store"
)

// handleQuery launches Browser-SERP and Academic-API calls in parallel;
// both must be attempted, and failure of one must not cancel the other
// (spec.md §4.4 step 3). Results are merged through CPI in (rank ASC,
// engine priority) order.
func (p *Pipeline) handleQuery(ctx context.Context, job *model.Job, target model.Target) ([]*model.Page, error) {
	query := strings.TrimSpace(target.Value)
	if query == "" {
		return nil, nil // empty-query edge case: no-op completion
	}

	serpResults, academicRecords := p.runArms(ctx, query)

	var pages []*model.Page
	seen := make(map[string]bool)
	var challenged bool

	for _, rec := range academicRecords {
		page, err := p.ingestAcademicRecord(ctx, job, rec)
		if err != nil {
			if isChallenge(err) {
				challenged = true
				continue
			}
			return pages, err
		}
		if page != nil && !seen[page.ID] {
			seen[page.ID] = true
			pages = append(pages, page)
		}
	}

	for _, sr := range serpResults {
		page, err := p.ingestSERPResult(ctx, job, sr)
		if err != nil {
			if isChallenge(err) {
				challenged = true
				continue
			}
			return pages, err
		}
		if page != nil && !seen[page.ID] {
			seen[page.ID] = true
			pages = append(pages, page)
		}
	}

	if challenged {
		return pages, apierr.New(apierr.KindChallenge, "search: one or more query results hit a challenge page")
	}
	return pages, nil
}

func isChallenge(err error) bool {
	var apiErr *apierr.Error
	return errors.As(err, &apiErr) && apiErr.Kind == apierr.KindChallenge
}

func encodeSERPResults(results []browser.SERPResult) (string, error) {
	raw, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeSERPResults(raw string) ([]browser.SERPResult, bool) {
	var results []browser.SERPResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, false
	}
	return results, true
}

// runArms fans SERP and academic lookups out concurrently. Each arm's
// goroutine always returns nil to errgroup — a failed arm just leaves its
// slice empty, matching the teacher's intelligence_gatherer.go pattern of
// collecting per-arm errors without letting one cancel the others.
func (p *Pipeline) runArms(ctx context.Context, query string) ([]browser.SERPResult, []academic.PaperRecord) {
	cacheKey := store.SerpCacheKey(paperindex.NormalizeURL("query://"+query), p.cfg.engines(), "", 1)
	if cached, err := p.store.GetSerpCache(cacheKey); err == nil {
		if time.Since(cached.CreatedAt) < p.cfg.serpCacheTTL() {
			if results, ok := decodeSERPResults(cached.ResultsJSON); ok {
				logging.SearchDebug("serp cache hit for query %q", query)
				return results, p.runAcademicArm(ctx, query)
			}
		}
	}

	var mu sync.Mutex
	var serpResults []browser.SERPResult
	var academicRecords []academic.PaperRecord

	eg := new(errgroup.Group)
	eg.Go(func() error {
		serpCtx, cancel := context.WithTimeout(ctx, p.cfg.serpArmTimeout())
		defer cancel()
		results, err := p.runSERPArm(serpCtx, query)
		if err != nil {
			logging.Search("serp arm failed for query %q: %v", query, err)
			return nil
		}
		mu.Lock()
		serpResults = results
		mu.Unlock()
		if raw, encErr := encodeSERPResults(results); encErr == nil {
			_ = p.store.PutSerpCache(&store.SerpCacheEntry{
				CacheKey:        cacheKey,
				NormalizedQuery: query,
				Engines:         p.cfg.engines(),
				Page:            1,
				ResultsJSON:     raw,
			})
		}
		return nil
	})
	eg.Go(func() error {
		academicCtx, cancel := context.WithTimeout(ctx, p.cfg.academicArmTimeout())
		defer cancel()
		recs, err := p.runAcademicArmCtx(academicCtx, query)
		if err != nil {
			logging.Search("academic arm failed for query %q: %v", query, err)
			return nil
		}
		mu.Lock()
		academicRecords = recs
		mu.Unlock()
		return nil
	})
	_ = eg.Wait()
	return serpResults, academicRecords
}

// runSERPArm queries every configured engine, respecting the single-slot
// browser exclusivity (spec.md §4.7), and orders results by (rank ASC,
// engine priority) as the engine slice is itself the priority order.
func (p *Pipeline) runSERPArm(ctx context.Context, query string) ([]browser.SERPResult, error) {
	if p.Browser == nil {
		return nil, nil
	}
	if err := p.BrowserSlot.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.BrowserSlot.Release()

	var out []browser.SERPResult
	for enginePriority, engine := range p.cfg.engines() {
		domain := engineDomain(engine)
		if p.Breaker != nil && p.Breaker.IsTripped(domain) {
			logging.SearchDebug("serp engine %s circuit open, skipping", engine)
			continue
		}
		results, challengeType, err := p.Browser.Search(ctx, query, engine)
		if err != nil {
			logging.Search("serp engine %s failed: %v", engine, err)
			continue
		}
		if challengeType != browser.ChallengeNone {
			logging.Search("serp engine %s served a %s challenge, skipping its results", engine, challengeType)
			p.recordUnblockedChallenge(domain, string(challengeType))
			continue
		}
		for i := range results {
			results[i].Rank = results[i].Rank*100 + enginePriority
		}
		out = append(out, results...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

// engineDomain maps a search-engine identifier to the registrable domain
// the circuit breaker tracks it under, falling back to the identifier
// itself for an engine not in this table.
func engineDomain(engine string) string {
	switch engine {
	case "duckduckgo":
		return "duckduckgo.com"
	case "bing":
		return "bing.com"
	default:
		return engine
	}
}

func (p *Pipeline) runAcademicArm(ctx context.Context, query string) []academic.PaperRecord {
	recs, err := p.runAcademicArmCtx(ctx, query)
	if err != nil {
		logging.Search("academic arm failed for query %q: %v", query, err)
		return nil
	}
	return recs
}

func (p *Pipeline) runAcademicArmCtx(ctx context.Context, query string) ([]academic.PaperRecord, error) {
	if p.Academic == nil {
		return nil, nil
	}
	if err := p.Limiters.Wait(ctx, "academic"); err != nil {
		return nil, err
	}
	return p.Academic.SearchByQuery(ctx, query, p.cfg.academicSearchLimit())
}

func (p *Pipeline) ingestAcademicRecord(ctx context.Context, job *model.Job, rec academic.PaperRecord) (*model.Page, error) {
	entry := entryFromRecord(rec)
	page, err := p.Index.Resolve(entry)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "search: resolve academic entry", err)
	}
	if rec.HasAbstract {
		if err := p.persistAbstract(page, rec.AbstractText); err != nil {
			return page, err
		}
		return page, nil
	}
	if err := p.fetchPageBody(ctx, job, page); err != nil {
		return page, err
	}
	return page, nil
}

// ingestSERPResult runs IR over the result URL; any identifier found
// triggers an academic enrichment call for that paper (spec.md §4.4 step 3).
func (p *Pipeline) ingestSERPResult(ctx context.Context, job *model.Job, sr browser.SERPResult) (*model.Page, error) {
	found := idresolver.Extract(sr.URL)
	var enrichment *academic.PaperRecord
	if !found.Empty() && p.Academic != nil {
		doi, err := idresolver.ResolveToDOI(ctx, p.Academic, found)
		if err == nil && doi != "" {
			if rec, err := p.Academic.GetByDOI(ctx, doi); err == nil && rec != nil {
				enrichment = rec
			}
		}
	}

	var entry paperindex.Entry
	if enrichment != nil {
		entry = entryFromRecord(*enrichment)
		if entry.URL == "" {
			entry.URL = sr.URL
		}
	} else {
		entry = paperindex.Entry{URL: sr.URL, Title: sr.Title, SourceAPI: "extraction"}
	}

	page, err := p.Index.Resolve(entry)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "search: resolve serp entry", err)
	}

	if entry.HasAbstract {
		if err := p.persistAbstract(page, entry.AbstractText); err != nil {
			return page, err
		}
		return page, nil
	}
	if err := p.fetchPageBody(ctx, job, page); err != nil {
		return page, err
	}
	return page, nil
}
