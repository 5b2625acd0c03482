// Package graphengine builds the in-memory evidence graph for a task and
// runs Bayesian claim aggregation and citation-subgraph analytics over it.
//
// A task's graph is never persisted as its own structure: Pages and
// Fragments are global tables, sliced into a task's view by walking the
// claim-incident edges outward (spec.md §4.6). The only thing this
// package materializes that the store does not is the derived
// Claim->Page `evidence_source` edge, kept in memory only.
package graphengine

import (
	"time"

	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/store"
)

// Graph is the task-scoped evidence graph: every Fragment->Claim judgement
// edge for the task, every Page->Page citation edge whose source is one of
// the task's source pages, and the Claim->Page edges derived from the two.
type Graph struct {
	TaskID string

	ClaimEdges    []*model.Edge // fragment -> claim, supports/refutes/neutral
	CitationEdges []*model.Edge // page -> page, cites
	EvidenceEdges []*model.Edge // claim -> page, derived, in-memory only

	SourcePageIDs []string // distinct page ids backing the task's claims
}

// LoadFromDB implements spec.md §4.6's load_from_db(task_id): it ingests
// (a) the task's claim-incident edges, (b) the cites edges whose source
// page is one of the task's source pages, and (c) the evidence_source
// edges derived from (a), deduplicated by (claim_id, page_id).
func LoadFromDB(s *store.Store, taskID string) (*Graph, error) {
	g := &Graph{TaskID: taskID}

	claims, err := s.ClaimsByTask(taskID)
	if err != nil {
		return nil, err
	}

	fragmentPage := make(map[string]string) // fragment id -> page id, memoized
	sourcePages := make(map[string]bool)
	evidenceSeen := make(map[string]bool) // "claimID|pageID"

	for _, c := range claims {
		edges, err := s.EdgesByClaim(c.ID)
		if err != nil {
			return nil, err
		}
		g.ClaimEdges = append(g.ClaimEdges, edges...)

		for _, e := range edges {
			if e.SourceType != model.EntityFragment {
				continue
			}
			pageID, ok := fragmentPage[e.SourceID]
			if !ok {
				fr, err := s.GetFragment(e.SourceID)
				if err != nil {
					return nil, err
				}
				pageID = fr.PageID
				fragmentPage[e.SourceID] = pageID
			}
			sourcePages[pageID] = true

			dedupeKey := c.ID + "|" + pageID
			if evidenceSeen[dedupeKey] {
				continue
			}
			evidenceSeen[dedupeKey] = true
			g.EvidenceEdges = append(g.EvidenceEdges, &model.Edge{
				ID:         dedupeKey,
				SourceType: model.EntityClaim,
				SourceID:   c.ID,
				TargetType: model.EntityPage,
				TargetID:   pageID,
				Relation:   model.RelationEvidenceSource,
				CreatedAt:  time.Now().UTC(),
			})
		}
	}

	for pageID := range sourcePages {
		g.SourcePageIDs = append(g.SourcePageIDs, pageID)
		cites, err := s.CitationEdgesFrom(pageID)
		if err != nil {
			return nil, err
		}
		g.CitationEdges = append(g.CitationEdges, cites...)
	}

	logging.GraphDebug("loaded graph for task %s: %d claim edges, %d source pages, %d citation edges, %d evidence edges",
		taskID, len(g.ClaimEdges), len(g.SourcePageIDs), len(g.CitationEdges), len(g.EvidenceEdges))
	return g, nil
}

// EdgesForClaim returns this graph's judgement edges targeting claimID.
func (g *Graph) EdgesForClaim(claimID string) []*model.Edge {
	var out []*model.Edge
	for _, e := range g.ClaimEdges {
		if e.TargetType == model.EntityClaim && e.TargetID == claimID {
			out = append(out, e)
		}
	}
	return out
}

// ClaimIDs returns the distinct claim ids appearing as judgement-edge
// targets in this graph, in first-seen order.
func (g *Graph) ClaimIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.ClaimEdges {
		if e.TargetType != model.EntityClaim {
			continue
		}
		if seen[e.TargetID] {
			continue
		}
		seen[e.TargetID] = true
		out = append(out, e.TargetID)
	}
	return out
}
