package extract

import (
	"context"
	"fmt"

	"veritas/internal/collaborators/nli"
	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/scheduler"
)

// Handle is the scheduler.Handler for verify_nli jobs: cross-source
// re-verification of claims that now have evidence from more than one
// source page (spec.md §4.7 follow-up chaining). Re-judging simply
// reruns NLI over the claim's existing (fragment, claim) pairs and
// replaces the edges in place — UpsertJudgementEdge's replace-by-key
// semantics make this idempotent (spec.md §8).
func (e *Extractor) Handle(ctx context.Context, job *model.Job) (scheduler.HandlerResult, error) {
	claims, err := e.store.ClaimsByTask(job.TaskID)
	if err != nil {
		return scheduler.HandlerResult{}, fmt.Errorf("extract: load task claims: %w", err)
	}

	for _, claim := range claims {
		if err := e.reverifyClaim(ctx, claim); err != nil {
			logging.Extract("verify_nli: claim %s re-judgement failed: %v", claim.ID, err)
		}
	}
	return scheduler.HandlerResult{}, nil
}

func (e *Extractor) reverifyClaim(ctx context.Context, claim *model.Claim) error {
	edges, err := e.store.EdgesByClaim(claim.ID)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}

	sourcePages := make(map[string]bool)
	fragments := make(map[string]*model.Fragment, len(edges))
	for _, edge := range edges {
		frag, err := e.store.GetFragment(edge.SourceID)
		if err != nil {
			continue
		}
		fragments[edge.SourceID] = frag
		sourcePages[frag.PageID] = true
	}
	if len(sourcePages) < 2 {
		return nil // not yet cross-source, nothing to re-verify
	}
	if e.NLI == nil {
		return nil
	}

	var targets []*model.Edge
	pairs := make([]nli.Pair, 0, len(edges))
	for _, edge := range edges {
		frag, ok := fragments[edge.SourceID]
		if !ok {
			continue
		}
		targets = append(targets, edge)
		pairs = append(pairs, nli.Pair{Premise: frag.TextContent, Hypothesis: claim.ClaimText})
	}
	if len(pairs) == 0 {
		return nil
	}

	results, err := e.NLI.ClassifyBatch(ctx, pairs)
	if err != nil {
		return err
	}

	for i, edge := range targets {
		if i >= len(results) || results[i].Label == "" {
			continue
		}
		updated := &model.Edge{
			SourceType:    edge.SourceType,
			SourceID:      edge.SourceID,
			TargetType:    edge.TargetType,
			TargetID:      edge.TargetID,
			Relation:      model.EdgeRelation(results[i].Label),
			NLILabel:      results[i].Label,
			NLIConfidence: results[i].RawScore,
		}
		if _, err := e.store.UpsertJudgementEdge(updated); err != nil {
			logging.Extract("verify_nli: edge update failed (fragment=%s claim=%s): %v", edge.SourceID, claim.ID, err)
		}
	}
	return nil
}
