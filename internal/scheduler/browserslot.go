package scheduler

import "context"

// BrowserSlot enforces the single-slot exclusivity the Browser-SERP
// collaborator requires (spec.md §4.7): a buffered channel of size 1 used
// as a semaphore, the same idiom as the teacher's client_zai.go request
// concurrency limiter.
type BrowserSlot struct {
	sem chan struct{}
}

// NewBrowserSlot builds a single-slot semaphore.
func NewBrowserSlot() *BrowserSlot {
	return &BrowserSlot{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the slot is free or ctx is cancelled.
func (b *BrowserSlot) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot. Must be called exactly once per successful
// Acquire, typically via defer.
func (b *BrowserSlot) Release() {
	<-b.sem
}
