package search

import (
	"context"

	"veritas/internal/apierr"
	"veritas/internal/collaborators/academic"
	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/paperindex"
)

// handleDOI is the fast path: skip SERP, ask the academic collaborator for
// metadata, feed into CPI (spec.md §4.4 step 1).
func (p *Pipeline) handleDOI(ctx context.Context, job *model.Job, target model.Target) ([]*model.Page, error) {
	doi := paperindex.NormalizeDOI(target.Value)
	if err := p.Limiters.Wait(ctx, "academic"); err != nil {
		return nil, apierr.Wrap(apierr.KindTransient, "search: rate limiter wait", err)
	}
	rec, err := p.Academic.GetByDOI(ctx, doi)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransient, "search: academic lookup by doi", err)
	}
	if rec == nil {
		logging.SearchDebug("doi %s not found in any academic source", doi)
		return nil, nil
	}

	entry := entryFromRecord(*rec)
	page, err := p.Index.Resolve(entry)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "search: resolve doi page", err)
	}

	if rec.HasAbstract {
		if err := p.persistAbstract(page, rec.AbstractText); err != nil {
			return nil, err
		}
		return []*model.Page{page}, nil
	}

	if err := p.fetchPageBody(ctx, job, page); err != nil {
		return nil, err
	}
	return []*model.Page{page}, nil
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
