// Package search implements the Search Pipeline (spec.md §4.4): for each
// queued target it runs the query/url/doi composition described there,
// materializes Pages through the Canonical Paper Index, and hands each one
// to the Fragment/Claim Extractor before chaining the scheduler's
// follow-up jobs.
package search

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"veritas/internal/apierr"
	"veritas/internal/authqueue"
	"veritas/internal/collaborators/academic"
	"veritas/internal/collaborators/browser"
	"veritas/internal/collaborators/fetch"
	"veritas/internal/idresolver"
	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/paperindex"
	"veritas/internal/scheduler"
	"veritas/internal/store"
)

// Extractor is the seam to the Fragment/Claim Extractor (§4.5): the
// Search Pipeline hands off each materialized Page synchronously rather
// than through a dedicated job kind, since model.JobKind's closed set has
// no extract_page entry — "handoff" (spec.md §4.4 step 4) is a direct
// call, not a new queue hop.
type Extractor interface {
	ProcessPage(ctx context.Context, taskID string, page *model.Page) (fragmentCount int, err error)
}

// Config tunes the pipeline's engine list, cache TTL, and per-arm timeouts.
type Config struct {
	Engines             []string
	SerpCacheTTL        time.Duration
	SerpArmTimeout      time.Duration
	AcademicArmTimeout  time.Duration
	AcademicSearchLimit int
}

func (c Config) engines() []string {
	if len(c.Engines) > 0 {
		return c.Engines
	}
	return []string{"duckduckgo", "bing"}
}

func (c Config) serpCacheTTL() time.Duration {
	if c.SerpCacheTTL > 0 {
		return c.SerpCacheTTL
	}
	return 6 * time.Hour
}

func (c Config) serpArmTimeout() time.Duration {
	if c.SerpArmTimeout > 0 {
		return c.SerpArmTimeout
	}
	return 20 * time.Second
}

func (c Config) academicArmTimeout() time.Duration {
	if c.AcademicArmTimeout > 0 {
		return c.AcademicArmTimeout
	}
	return 20 * time.Second
}

func (c Config) academicSearchLimit() int {
	if c.AcademicSearchLimit > 0 {
		return c.AcademicSearchLimit
	}
	return 20
}

// Pipeline is the scheduler.Handler for model.JobTargetQueue.
type Pipeline struct {
	store       *store.Store
	Academic    academic.Gateway
	Browser     browser.Driver
	Fetcher     fetch.Fetcher
	Index       *paperindex.Index
	Extractor   Extractor
	Limiters    *scheduler.Limiters
	BrowserSlot *scheduler.BrowserSlot
	// Breaker is the same authqueue.CircuitBreaker instance the
	// authqueue.Service uses, shared so resolve_auth(solved)'s Reset
	// actually clears the state this pipeline consults. Optional: nil
	// disables the fast-fail/trip behavior entirely.
	Breaker *authqueue.CircuitBreaker
	cfg     Config
}

// New builds a Pipeline. Limiters/BrowserSlot are normally shared with the
// scheduler.Pool that dispatches to it (the same rate budget and browser
// exclusivity apply regardless of which job is currently running).
func New(s *store.Store, academicGW academic.Gateway, browserDriver browser.Driver, fetcher fetch.Fetcher, extractor Extractor, limiters *scheduler.Limiters, slot *scheduler.BrowserSlot, cfg Config) *Pipeline {
	return &Pipeline{
		store:       s,
		Academic:    academicGW,
		Browser:     browserDriver,
		Fetcher:     fetcher,
		Index:       paperindex.New(s),
		Extractor:   extractor,
		Limiters:    limiters,
		BrowserSlot: slot,
		cfg:         cfg,
	}
}

// Handle dispatches a target_queue job by its target kind (spec.md §4.4).
func (p *Pipeline) Handle(ctx context.Context, job *model.Job) (scheduler.HandlerResult, error) {
	target, err := decodeTarget(job.Input)
	if err != nil {
		return scheduler.HandlerResult{}, err
	}

	var ingested []*model.Page
	switch target.Kind {
	case model.TargetDOI:
		ingested, err = p.handleDOI(ctx, job, target)
	case model.TargetURL:
		ingested, err = p.handleURL(ctx, job, target)
	case model.TargetQuery:
		ingested, err = p.handleQuery(ctx, job, target)
	default:
		return scheduler.HandlerResult{}, invalidTargetKind(target.Kind)
	}
	if err != nil {
		return scheduler.HandlerResult{}, err
	}

	for _, page := range ingested {
		if p.Extractor == nil {
			continue
		}
		n, err := p.Extractor.ProcessPage(ctx, job.TaskID, page)
		if err != nil {
			logging.Search("extractor failed for page %s: %v", page.ID, err)
			continue
		}
		if n == 0 && page.PageType != model.PageEmpty {
			if err := p.store.SetPageType(page.ID, model.PageEmpty); err != nil {
				logging.Search("failed to mark page %s empty: %v", page.ID, err)
			} else {
				page.PageType = model.PageEmpty
			}
		}
	}

	return scheduler.HandlerResult{FollowUps: followUps(ingested)}, nil
}

// followUps implements "on target_queue completion with ≥1 academic Page
// ingested, enqueue one verify_nli job and one citation_graph job per
// academic source page" (spec.md §4.7).
func followUps(pages []*model.Page) []scheduler.FollowUpJob {
	var academicPages []*model.Page
	for _, p := range pages {
		if p.PageType == model.PageAcademic {
			academicPages = append(academicPages, p)
		}
	}
	if len(academicPages) == 0 {
		return nil
	}

	out := make([]scheduler.FollowUpJob, 0, len(academicPages)+1)
	out = append(out, scheduler.FollowUpJob{Kind: model.JobVerifyNLI, Priority: model.PriorityMedium})
	for _, ap := range academicPages {
		out = append(out, scheduler.FollowUpJob{
			Kind:      model.JobCitationGraph,
			Priority:  model.PriorityLow,
			Input:     ap.ID,
			DedupeKey: "citation_graph:" + ap.ID,
		})
	}
	return out
}

func decodeTarget(input string) (model.Target, error) {
	var t model.Target
	if strings.TrimSpace(input) == "" {
		return t, apierr.FieldError("input", "Target", "search: empty job input")
	}
	if err := json.Unmarshal([]byte(input), &t); err != nil {
		return t, apierr.Wrap(apierr.KindInvalidInput, "search: decode target", err)
	}
	return t, nil
}

func invalidTargetKind(kind model.TargetKind) error {
	return apierr.FieldError("kind", "query|url|doi", "search: unknown target kind "+string(kind))
}

// ids resolves any DOI/PMID/arXiv identifier present in a URL target,
// used to route url targets onto the doi fast path (spec.md §4.4 step 2).
func ids(value string) idresolver.Identifiers {
	return idresolver.Extract(value)
}
