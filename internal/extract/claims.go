package extract

import (
	"context"

	"veritas/internal/collaborators/llmextract"
	"veritas/internal/model"
)

// extractClaims asks the LLM collaborator for claims over the page's
// fragment sequence, persists each as a task-scoped Claim, and embeds it
// for the similarity prefilter judge uses next (spec.md §4.5).
func (e *Extractor) extractClaims(ctx context.Context, taskID, centralHypothesis string, fragments []*model.Fragment) ([]*model.Claim, error) {
	if e.LLM == nil || len(fragments) == 0 {
		return nil, nil
	}

	drafts := make([]llmextract.FragmentDraft, len(fragments))
	for i, f := range fragments {
		drafts[i] = llmextract.FragmentDraft{
			FragmentType: f.FragmentType,
			TextContent:  f.TextContent,
		}
	}

	claimDrafts, err := e.LLM.ExtractClaims(ctx, centralHypothesis, drafts)
	if err != nil {
		return nil, err
	}

	claims := make([]*model.Claim, 0, len(claimDrafts))
	for _, cd := range claimDrafts {
		if cd.FragmentIndex < 0 || cd.FragmentIndex >= len(fragments) {
			continue
		}
		claim := &model.Claim{
			TaskID:        taskID,
			ClaimText:     cd.ClaimText,
			ClaimType:     cd.ClaimType,
			Granularity:   cd.Granularity,
			LLMConfidence: cd.Confidence,
		}
		if e.Embedder != nil {
			if vec, err := e.Embedder.Embed(ctx, []string{cd.ClaimText}); err == nil && len(vec) == 1 {
				claim.Embedding = vec[0]
			}
		}
		if err := e.store.CreateClaim(claim); err != nil {
			continue
		}
		claims = append(claims, claim)
	}
	return claims, nil
}
