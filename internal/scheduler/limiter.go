package scheduler

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// SourceLimit configures one per-source token bucket: rps is the refill
// rate in requests per second, burst is the bucket size.
type SourceLimit struct {
	RPS   float64
	Burst int
}

// DefaultSourceLimit is used for any source not explicitly configured.
var DefaultSourceLimit = SourceLimit{RPS: 2, Burst: 4}

// Limiters holds one golang.org/x/time/rate.Limiter per external source
// (academic APIs, search engines), shared across all workers so the whole
// pool — not just one job — respects a source's rate budget.
type Limiters struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	configs map[string]SourceLimit
}

// NewLimiters builds a registry seeded with per-source overrides; sources
// absent from configs fall back to DefaultSourceLimit on first use.
func NewLimiters(configs map[string]SourceLimit) *Limiters {
	return &Limiters{
		buckets: make(map[string]*rate.Limiter),
		configs: configs,
	}
}

func (l *Limiters) bucket(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[source]; ok {
		return b
	}
	cfg, ok := l.configs[source]
	if !ok {
		cfg = DefaultSourceLimit
	}
	b := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	l.buckets[source] = b
	return b
}

// Wait blocks (cooperatively) until source's bucket has a token or ctx is
// cancelled — the scheduler's "wait on a per-source rate limiter"
// suspension point.
func (l *Limiters) Wait(ctx context.Context, source string) error {
	return l.bucket(source).Wait(ctx)
}
