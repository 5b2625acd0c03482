// Package scheduler implements the Job Scheduler (JS): a small cooperative
// worker pool claiming typed jobs from the store, dispatching them to
// registered handlers, chaining follow-up jobs, and propagating
// cancellation at suspension points (spec.md §4.7).
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"veritas/internal/apierr"
	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/store"
)

// DefaultWorkerCount matches spec.md §4.7's "fixed small pool (default 2)".
const DefaultWorkerCount = 2

// DefaultPollInterval is how long an idle worker sleeps between failed
// claim attempts (no job of a claimable kind currently queued).
const DefaultPollInterval = 250 * time.Millisecond

// FollowUpJob describes a job a Handler wants chained after its own
// completion (spec.md §4.7's follow-up chaining).
type FollowUpJob struct {
	Kind      model.JobKind
	Priority  model.JobPriority
	Input     string
	DedupeKey string
}

// HandlerResult is what a Handler returns on success.
type HandlerResult struct {
	FollowUps []FollowUpJob
}

// Handler executes one job kind. Implementations live in the packages
// that own the domain logic (search, extract, graphengine) and are
// registered with the pool at startup; the scheduler itself knows
// nothing about what a target_queue or verify_nli job actually does.
type Handler interface {
	Handle(ctx context.Context, job *model.Job) (HandlerResult, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, job *model.Job) (HandlerResult, error)

func (f HandlerFunc) Handle(ctx context.Context, job *model.Job) (HandlerResult, error) {
	return f(ctx, job)
}

// AuthCanceller is the callback an authqueue.Service registers so
// stop_task(mode=full) can cascade cancellation to pending auth items
// blocking the task's jobs (spec.md §4.7). Optional: nil is a no-op.
type AuthCanceller interface {
	CancelAuthItemsForTask(taskID string) (int, error)
}

// CancelMode is stop_task's cancellation mode.
type CancelMode string

const (
	ModeGraceful  CancelMode = "graceful"
	ModeImmediate CancelMode = "immediate"
	ModeFull      CancelMode = "full"
)

type runningJob struct {
	taskID string
	kind   model.JobKind
	cancel context.CancelFunc
}

// Pool is the worker pool. Construct with NewPool, register handlers with
// RegisterHandler, then Start.
type Pool struct {
	store        *store.Store
	workers      int
	pollInterval time.Duration

	Limiters    *Limiters
	BrowserSlot *BrowserSlot
	AuthCanceller AuthCanceller

	handlersMu sync.RWMutex
	handlers   map[model.JobKind]Handler

	runningMu sync.Mutex
	running   map[string]runningJob // job id -> cancel entry

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewPool builds a pool bound to s. workers<=0 falls back to
// DefaultWorkerCount.
func NewPool(s *store.Store, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	return &Pool{
		store:        s,
		workers:      workers,
		pollInterval: DefaultPollInterval,
		Limiters:     NewLimiters(nil),
		BrowserSlot:  NewBrowserSlot(),
		handlers:     make(map[model.JobKind]Handler),
		running:      make(map[string]runningJob),
		stopCh:       make(chan struct{}),
	}
}

// RegisterHandler binds a Handler to a job kind. Must be called before
// Start; not safe to call concurrently with running workers.
func (p *Pool) RegisterHandler(kind model.JobKind, h Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[kind] = h
}

func (p *Pool) handlerFor(kind model.JobKind) (Handler, bool) {
	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()
	h, ok := p.handlers[kind]
	return h, ok
}

// Start launches the worker goroutines. ctx cancellation stops every
// worker at its next suspension point; call Stop to wait for them to
// drain.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
}

// Stop signals every worker to exit its poll loop and waits for them to
// finish their current job, if any.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		job, err := p.store.ClaimNextJob("", p.claimableKinds())
		if err != nil {
			logging.Get(logging.CategoryScheduler).Warn("worker %d claim failed: %v", id, err)
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}
		p.runJob(ctx, job)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-time.After(p.pollInterval):
	case <-ctx.Done():
	case <-p.stopCh:
	}
}

// claimableKinds restricts ClaimNextJob to kinds with a registered
// handler, so an unregistered kind never starves the queue by being
// claimed and immediately failed in a tight loop.
func (p *Pool) claimableKinds() []model.JobKind {
	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()
	kinds := make([]model.JobKind, 0, len(p.handlers))
	for k := range p.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

func (p *Pool) runJob(parent context.Context, job *model.Job) {
	jobCtx, cancel := context.WithCancel(parent)
	p.runningMu.Lock()
	p.running[job.ID] = runningJob{taskID: job.TaskID, kind: job.Kind, cancel: cancel}
	p.runningMu.Unlock()
	defer func() {
		p.runningMu.Lock()
		delete(p.running, job.ID)
		p.runningMu.Unlock()
		cancel()
	}()

	handler, ok := p.handlerFor(job.Kind)
	if !ok {
		_ = p.store.FinishJob(job.ID, model.JobFailed, "no handler registered for kind "+string(job.Kind))
		return
	}

	result, err := handler.Handle(jobCtx, job)
	if err != nil {
		p.finishFailed(job, jobCtx, err)
		return
	}

	if err := p.store.FinishJob(job.ID, model.JobCompleted, ""); err != nil {
		logging.Get(logging.CategoryScheduler).Warn("finish job %s failed: %v", job.ID, err)
		return
	}
	logging.Scheduler("job %s (%s) completed, %d follow-up(s)", job.ID, job.Kind, len(result.FollowUps))
	for _, fu := range result.FollowUps {
		_, _, err := p.store.CreateJob(&model.Job{
			TaskID:   job.TaskID,
			Kind:     fu.Kind,
			Priority: fu.Priority,
			Input:    fu.Input,
		}, fu.DedupeKey)
		if err != nil {
			logging.Get(logging.CategoryScheduler).Warn("chain follow-up %s for job %s failed: %v", fu.Kind, job.ID, err)
		}
	}
}

func (p *Pool) finishFailed(job *model.Job, jobCtx context.Context, err error) {
	if jobCtx.Err() != nil || errors.Is(err, context.Canceled) {
		_ = p.store.FinishJob(job.ID, model.JobCancelled, "cancelled")
		return
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && apiErr.Kind == apierr.KindChallenge {
		if err := p.store.SetJobAwaitingAuth(job.ID); err != nil {
			logging.Get(logging.CategoryScheduler).Warn("set job %s awaiting_auth failed: %v", job.ID, err)
		}
		return
	}
	_ = p.store.FinishJob(job.ID, model.JobFailed, err.Error())
}

// Cancel implements stop_task: it marks queued/awaiting_auth job rows
// cancelled directly and, for immediate/full, cancels the in-flight
// contexts of currently running jobs instead of writing their row here —
// a running job only reaches 'cancelled' once its handler actually returns
// and finishFailed observes the cancelled context, so it can never be
// written here and then clobbered back to 'completed' by a handler that
// was already past its last cancellation check (spec.md §4.7, §8).
func (p *Pool) Cancel(taskID string, mode CancelMode, scope []model.JobKind) (int64, error) {
	n, err := p.store.CancelJobsForTask(taskID, scope)
	if err != nil {
		return 0, err
	}
	if mode == ModeGraceful {
		return n, nil
	}

	scopeSet := kindSet(scope)
	p.runningMu.Lock()
	for _, rj := range p.running {
		if rj.taskID != taskID {
			continue
		}
		if len(scopeSet) > 0 && !scopeSet[rj.kind] {
			continue
		}
		rj.cancel()
	}
	p.runningMu.Unlock()

	if mode == ModeFull && p.AuthCanceller != nil {
		if _, err := p.AuthCanceller.CancelAuthItemsForTask(taskID); err != nil {
			logging.Get(logging.CategoryScheduler).Warn("cancel auth items for task %s failed: %v", taskID, err)
		}
	}
	return n, nil
}

func kindSet(kinds []model.JobKind) map[model.JobKind]bool {
	if len(kinds) == 0 {
		return nil
	}
	out := make(map[model.JobKind]bool, len(kinds))
	for _, k := range kinds {
		out[k] = true
	}
	return out
}
