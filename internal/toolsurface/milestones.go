package toolsurface

import "veritas/internal/model"

// budgetThresholdBucket reduces a task's budget consumption to a compact
// signature that changes exactly when a 25% boundary is crossed, letting
// get_status's long-poll detect "budget threshold crossed" without
// tracking every individual metric delta.
func budgetThresholdBucket(m model.Metrics, b model.Budget) [3]int {
	return [3]int{
		bucketOf(m.PagesIngested, b.MaxPages),
		bucketOf(m.FragmentsCreated, b.MaxFragments),
		bucketOf(m.ClaimsExtracted, b.MaxClaims),
	}
}

func bucketOf(n, max int) int {
	if max <= 0 {
		return 0
	}
	pct := n * 100 / max
	switch {
	case pct >= 100:
		return 4
	case pct >= 75:
		return 3
	case pct >= 50:
		return 2
	case pct >= 25:
		return 1
	default:
		return 0
	}
}
