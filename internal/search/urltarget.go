package search

import (
	"context"

	"veritas/internal/apierr"
	"veritas/internal/model"
	"veritas/internal/paperindex"
)

// handleURL extracts identifiers from the URL; a DOI present routes to
// the fast path, otherwise a direct fetch is enqueued (spec.md §4.4 step 2).
func (p *Pipeline) handleURL(ctx context.Context, job *model.Job, target model.Target) ([]*model.Page, error) {
	found := ids(target.Value)
	if found.DOI != "" {
		return p.handleDOI(ctx, job, model.Target{Kind: model.TargetDOI, Value: found.DOI, Priority: target.Priority})
	}

	entry := paperindex.Entry{URL: target.Value, SourceAPI: "extraction"}
	page, err := p.Index.Resolve(entry)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "search: resolve url page", err)
	}

	if err := p.fetchPageBody(ctx, job, page); err != nil {
		return nil, err
	}
	return []*model.Page{page}, nil
}
