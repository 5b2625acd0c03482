package graphengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"veritas/internal/model"
)

func citeEdge(src, dst string) *model.Edge {
	return &model.Edge{SourceType: model.EntityPage, SourceID: src, TargetType: model.EntityPage, TargetID: dst, Relation: model.RelationCites}
}

func scoreFor(scores []NodeScore, id string) (float64, bool) {
	for _, s := range scores {
		if s.ID == id {
			return s.Score, true
		}
	}
	return 0, false
}

func TestPageRankEmptyGraphReturnsNil(t *testing.T) {
	g := &Graph{}
	require.Nil(t, g.PageRank(true, 0, 0))
}

func TestPageRankAllMassFlowsToCitedPage(t *testing.T) {
	// A and B both cite C; C cites nothing. C should end up with the
	// highest rank.
	g := &Graph{CitationEdges: []*model.Edge{citeEdge("A", "C"), citeEdge("B", "C")}}
	scores := g.PageRank(true, 0, 0)
	require.Len(t, scores, 3)

	a, _ := scoreFor(scores, "A")
	b, _ := scoreFor(scores, "B")
	c, _ := scoreFor(scores, "C")
	require.Greater(t, c, a)
	require.Greater(t, c, b)
}

func TestPageRankScoresSumToApproximatelyOne(t *testing.T) {
	g := &Graph{CitationEdges: []*model.Edge{citeEdge("A", "B"), citeEdge("B", "C"), citeEdge("C", "A")}}
	scores := g.PageRank(true, DefaultDamping, DefaultIterations)
	sum := 0.0
	for _, s := range scores {
		sum += s.Score
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestBetweennessCentralityBridgeNodeScoresHighest(t *testing.T) {
	// A -> B -> C: B lies on the only path between A and C.
	g := &Graph{CitationEdges: []*model.Edge{citeEdge("A", "B"), citeEdge("B", "C")}}
	scores := g.BetweennessCentrality(true)

	a, _ := scoreFor(scores, "A")
	b, _ := scoreFor(scores, "B")
	c, _ := scoreFor(scores, "C")
	require.Greater(t, b, a)
	require.Greater(t, b, c)
}

func TestBetweennessCentralityEmptyGraphReturnsNil(t *testing.T) {
	g := &Graph{}
	require.Nil(t, g.BetweennessCentrality(true))
}

func TestCitationOnlyExcludesEvidenceEdges(t *testing.T) {
	g := &Graph{
		CitationEdges: []*model.Edge{citeEdge("P1", "P2")},
		EvidenceEdges: []*model.Edge{{SourceType: model.EntityClaim, SourceID: "claim1", TargetType: model.EntityPage, TargetID: "P1", Relation: model.RelationEvidenceSource}},
	}
	citationOnly := g.PageRank(true, 0, 0)
	_, found := scoreFor(citationOnly, "claim1")
	require.False(t, found, "citation_only must not include claim nodes")

	full := g.PageRank(false, 0, 0)
	_, found = scoreFor(full, "claim1")
	require.True(t, found, "full graph must include the claim node reached via the evidence edge")
}
