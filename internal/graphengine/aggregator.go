package graphengine

import (
	"math"

	"veritas/internal/calibration"
	"veritas/internal/model"
)

// CalibrationSource is the fixed calibration-params key for the NLI
// collaborator, looked up once per Aggregator construction rather than
// per edge. Spec.md §9 only requires a single source of truth for the
// calibration application point, not per-domain calibration tags, so one
// tag covers the whole classifier.
const CalibrationSource = "nli"

// ClaimAggregate is one claim's Bayesian posterior over its judgement
// edges: α = 1 + Σ(calibrated support confidence), β = 1 + Σ(calibrated
// refute confidence), confidence = α/(α+β), variance = αβ/((α+β)²(α+β+1)),
// uncertainty = √variance, controversy = min(α-1,β-1)/(α+β-2).
type ClaimAggregate struct {
	ClaimID string

	Alpha float64
	Beta  float64

	Confidence  float64
	Variance    float64
	Uncertainty float64
	Controversy float64

	SupportingCount int
	RefutingCount   int
	NeutralCount    int
}

// Aggregator converts judgement edges into claim-level Bayesian
// aggregates. edgeConfidence is the single place a raw nli_confidence
// value is passed through a calibration.Transform (spec.md §9's resolved
// open question) before it feeds α/β accumulation.
type Aggregator struct {
	Calibration calibration.Transform
}

// NewAggregator wraps a calibration transform; passing nil is equivalent
// to calibration.NullTransform{} (identity), so the zero-value Aggregator
// already reproduces uncalibrated aggregation.
func NewAggregator(transform calibration.Transform) *Aggregator {
	return &Aggregator{Calibration: transform}
}

// edgeConfidence is the single call site where a raw NLI score becomes
// the calibrated confidence used by Bayesian accumulation.
func (a *Aggregator) edgeConfidence(e *model.Edge) float64 {
	raw := e.NLIConfidence
	if a == nil || a.Calibration == nil {
		return raw
	}
	return a.Calibration.Transform(raw)
}

// AggregateClaim computes the Bayesian posterior for one claim over its
// judgement edges. Neutral edges are counted but never update α or β
// (spec.md §4.6); llm_confidence is never an input.
func (a *Aggregator) AggregateClaim(claimID string, edges []*model.Edge) ClaimAggregate {
	alpha, beta := 1.0, 1.0
	agg := ClaimAggregate{ClaimID: claimID}

	for _, e := range edges {
		switch e.Relation {
		case model.RelationSupports:
			alpha += a.edgeConfidence(e)
			agg.SupportingCount++
		case model.RelationRefutes:
			beta += a.edgeConfidence(e)
			agg.RefutingCount++
		case model.RelationNeutral:
			agg.NeutralCount++
		}
	}

	sum := alpha + beta
	agg.Alpha = alpha
	agg.Beta = beta
	agg.Confidence = alpha / sum
	agg.Variance = (alpha * beta) / (sum * sum * (sum + 1))
	agg.Uncertainty = math.Sqrt(agg.Variance)
	if denom := sum - 2; denom > 0 {
		agg.Controversy = math.Min(alpha-1, beta-1) / denom
	}
	return agg
}

// AggregateAll computes every claim's aggregate from the graph's
// judgement edges, grouped by claim id.
func (a *Aggregator) AggregateAll(g *Graph) []ClaimAggregate {
	out := make([]ClaimAggregate, 0, len(g.ClaimIDs()))
	for _, claimID := range g.ClaimIDs() {
		out = append(out, a.AggregateClaim(claimID, g.EdgesForClaim(claimID)))
	}
	return out
}
