package graphengine

import "veritas/internal/model"

// DefaultDamping is PageRank's standard damping factor.
const DefaultDamping = 0.85

// DefaultIterations is enough power-method steps for a task-sized graph
// (hundreds to low thousands of nodes) to converge well past float64
// noise.
const DefaultIterations = 50

type nodeKey struct {
	kind model.EntityType
	id   string
}

// adjacency is a directed graph over a fixed node index, built once per
// analytics call from a Graph's edge lists.
type adjacency struct {
	keys  []nodeKey
	index map[nodeKey]int
	out   [][]int
}

func newAdjacency() *adjacency {
	return &adjacency{index: make(map[nodeKey]int)}
}

func (a *adjacency) nodeIndex(kind model.EntityType, id string) int {
	k := nodeKey{kind, id}
	if i, ok := a.index[k]; ok {
		return i
	}
	i := len(a.keys)
	a.keys = append(a.keys, k)
	a.index[k] = i
	a.out = append(a.out, nil)
	return i
}

func (a *adjacency) addEdge(srcKind model.EntityType, srcID string, dstKind model.EntityType, dstID string) {
	si := a.nodeIndex(srcKind, srcID)
	di := a.nodeIndex(dstKind, dstID)
	a.out[si] = append(a.out[si], di)
}

// buildAdjacency builds the analytics graph. citationOnly restricts it to
// Page nodes and `cites` edges (spec.md §4.6 default); otherwise every
// judgement, citation, and evidence edge in g contributes.
func (g *Graph) buildAdjacency(citationOnly bool) *adjacency {
	a := newAdjacency()
	for _, e := range g.CitationEdges {
		a.addEdge(e.SourceType, e.SourceID, e.TargetType, e.TargetID)
	}
	if citationOnly {
		return a
	}
	for _, e := range g.ClaimEdges {
		a.addEdge(e.SourceType, e.SourceID, e.TargetType, e.TargetID)
	}
	for _, e := range g.EvidenceEdges {
		a.addEdge(e.SourceType, e.SourceID, e.TargetType, e.TargetID)
	}
	return a
}

// NodeScore is a single node's analytics result, identified by entity
// type/id rather than a synthetic graph index.
type NodeScore struct {
	Type  model.EntityType
	ID    string
	Score float64
}

// PageRank runs the power-method PageRank over the graph's citation
// subgraph by default (citationOnly=true); pass false for the escape
// hatch over the full evidence graph. damping<=0 and iterations<=0 fall
// back to DefaultDamping/DefaultIterations.
func (g *Graph) PageRank(citationOnly bool, damping float64, iterations int) []NodeScore {
	if damping <= 0 {
		damping = DefaultDamping
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	a := g.buildAdjacency(citationOnly)
	n := len(a.keys)
	if n == 0 {
		return nil
	}

	outDeg := make([]int, n)
	for i, out := range a.out {
		outDeg[i] = len(out)
	}

	scores := make([]float64, n)
	init := 1.0 / float64(n)
	for i := range scores {
		scores[i] = init
	}

	for iter := 0; iter < iterations; iter++ {
		danglingMass := 0.0
		for i, deg := range outDeg {
			if deg == 0 {
				danglingMass += scores[i]
			}
		}
		base := (1-damping)/float64(n) + damping*danglingMass/float64(n)
		next := make([]float64, n)
		for i := range next {
			next[i] = base
		}
		for i, out := range a.out {
			if outDeg[i] == 0 {
				continue
			}
			share := damping * scores[i] / float64(outDeg[i])
			for _, j := range out {
				next[j] += share
			}
		}
		scores = next
	}

	out := make([]NodeScore, n)
	for i, k := range a.keys {
		out[i] = NodeScore{Type: k.kind, ID: k.id, Score: scores[i]}
	}
	return out
}

// BetweennessCentrality runs Brandes' algorithm (unweighted, directed)
// over the graph's citation subgraph by default; pass citationOnly=false
// for the full-graph escape hatch.
func (g *Graph) BetweennessCentrality(citationOnly bool) []NodeScore {
	a := g.buildAdjacency(citationOnly)
	n := len(a.keys)
	if n == 0 {
		return nil
	}
	centrality := make([]float64, n)

	for s := 0; s < n; s++ {
		stack := make([]int, 0, n)
		pred := make([][]int, n)
		sigma := make([]float64, n)
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		sigma[s] = 1
		dist[s] = 0
		queue := []int{s}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range a.out[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make([]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range pred[w] {
				if sigma[w] != 0 {
					delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
				}
			}
			if w != s {
				centrality[w] += delta[w]
			}
		}
	}

	out := make([]NodeScore, n)
	for i, k := range a.keys {
		out[i] = NodeScore{Type: k.kind, ID: k.id, Score: centrality[i]}
	}
	return out
}
