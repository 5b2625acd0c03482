// Package citegraph implements the citation_graph job handler (spec.md
// §4.7): given an academic source Page, expand its Page->Page `cites` set
// one hop by asking the academic gateway for the DOI's reference list,
// resolving each reference through the paper-identity index, and writing
// a citation Edge to every resolved target Page.
package citegraph

import (
	"context"
	"fmt"

	"veritas/internal/collaborators/academic"
	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/paperindex"
	"veritas/internal/scheduler"
	"veritas/internal/store"
)

// Handler is the scheduler.Handler for citation_graph jobs.
type Handler struct {
	store    *store.Store
	Academic academic.Gateway
	Index    *paperindex.Index
}

func New(s *store.Store, gw academic.Gateway, idx *paperindex.Index) *Handler {
	return &Handler{store: s, Academic: gw, Index: idx}
}

// Handle expands job.Input (a source Page ID) one hop. Only further
// explicit queue_reference_candidates calls chase references beyond that
// hop (spec.md §4.7); this handler never recurses.
func (h *Handler) Handle(ctx context.Context, job *model.Job) (scheduler.HandlerResult, error) {
	pageID := job.Input
	if pageID == "" {
		return scheduler.HandlerResult{}, fmt.Errorf("citegraph: empty page id")
	}
	page, err := h.store.GetPage(pageID)
	if err != nil {
		return scheduler.HandlerResult{}, fmt.Errorf("citegraph: load page: %w", err)
	}
	doi := page.PaperMetadata.DOI
	if doi == "" || h.Academic == nil {
		return scheduler.HandlerResult{}, nil
	}

	refs, err := h.Academic.GetReferences(ctx, doi)
	if err != nil {
		logging.Graph("citation_graph: reference lookup failed for page %s: %v", page.ID, err)
		return scheduler.HandlerResult{}, nil
	}

	for _, rec := range refs {
		entry := entryFromRecord(rec)
		target, err := h.Index.Resolve(entry)
		if err != nil {
			logging.Graph("citation_graph: resolve reference %s failed: %v", rec.DOI, err)
			continue
		}
		if target.ID == page.ID {
			continue // a self-citation via metadata noise, not a real edge
		}
		if err := h.store.CreateCitationEdge(page.ID, target.ID, citationSourceFor(rec.SourceAPI)); err != nil {
			logging.Graph("citation_graph: edge write failed (%s -> %s): %v", page.ID, target.ID, err)
		}
	}
	return scheduler.HandlerResult{}, nil
}

func citationSourceFor(sourceAPI string) model.CitationSource {
	switch sourceAPI {
	case "openalex":
		return model.CitationOpenAlex
	case "semantic_scholar":
		return model.CitationSemanticScholar
	default:
		return model.CitationExtraction
	}
}

func entryFromRecord(rec academic.PaperRecord) paperindex.Entry {
	return paperindex.Entry{
		URL:       rec.URL,
		Title:     rec.Title,
		Author:    rec.FirstAuthor,
		DOI:       rec.DOI,
		SourceAPI: rec.SourceAPI,
		PageType:  academic.PageTypeFor(rec),
		PaperMetadata: model.PaperMetadata{
			Year:          rec.Year,
			DOI:           paperindex.NormalizeDOI(rec.DOI),
			Venue:         rec.Venue,
			CitationCount: rec.CitationCount,
			SourceAPI:     rec.SourceAPI,
			PaperID:       rec.PaperID,
			HasAbstract:   rec.HasAbstract,
		},
		HasAbstract:  rec.HasAbstract,
		AbstractText: rec.AbstractText,
	}
}
