package extract

import (
	"context"
	"strings"

	"veritas/internal/model"
)

// segment turns a page's raw Fragment(s) into the real ordered sequence
// FCE is responsible for. An abstract fragment is already atomic and is
// returned unchanged — nothing is gained by asking the LLM to re-segment
// one paragraph of abstract text. Any other raw content is concatenated
// and run through the LLM segmentation collaborator, then the resulting
// fragments replace the raw placeholder in storage.
func (e *Extractor) segment(ctx context.Context, page *model.Page, raw []*model.Fragment) ([]*model.Fragment, error) {
	if len(raw) == 1 && raw[0].FragmentType == model.FragmentAbstract {
		return raw, nil
	}

	var body strings.Builder
	for _, f := range raw {
		body.WriteString(f.TextContent)
		body.WriteString("\n\n")
	}
	if strings.TrimSpace(body.String()) == "" {
		return raw, nil
	}
	if e.LLM == nil {
		return raw, nil
	}

	drafts, err := e.LLM.ExtractFragments(ctx, page.Title, body.String())
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return raw, nil
	}
	if max := e.cfg.maxFragmentsPerPage(); len(drafts) > max {
		drafts = drafts[:max]
	}

	persisted := make([]*model.Fragment, 0, len(drafts))
	for i, d := range drafts {
		frag := &model.Fragment{
			PageID:           page.ID,
			FragmentType:     d.FragmentType,
			TextContent:      d.TextContent,
			HeadingHierarchy: headingCrumbs(d.HeadingHierarchy),
			Position:         i,
		}
		if e.Embedder != nil {
			if vec, err := e.Embedder.Embed(ctx, []string{d.TextContent}); err == nil && len(vec) == 1 {
				frag.Embedding = vec[0]
			}
		}
		if err := e.store.CreateFragment(frag); err != nil {
			return nil, err
		}
		persisted = append(persisted, frag)
	}

	for _, r := range raw {
		_ = e.store.DeleteFragment(r.ID)
	}

	return persisted, nil
}

func headingCrumbs(levels []string) []model.HeadingCrumb {
	out := make([]model.HeadingCrumb, len(levels))
	for i, text := range levels {
		out[i] = model.HeadingCrumb{Level: i + 1, Text: text}
	}
	return out
}
