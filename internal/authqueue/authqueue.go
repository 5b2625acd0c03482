// Package authqueue implements the human-in-the-loop auth queue (spec.md
// §4.8): surfacing challenge pages the fetch layer can't get past on its
// own, and routing a human's resolution back into the job scheduler.
package authqueue

import (
	"veritas/internal/apierr"
	"veritas/internal/model"
	"veritas/internal/store"
)

// Service wraps the auth-queue store calls with the domain logic spec.md
// §4.8 assigns to resolve_auth: resetting the circuit breaker and
// requeuing or cancelling the jobs an item was blocking.
type Service struct {
	store   *store.Store
	Breaker *CircuitBreaker
}

// NewService builds an authqueue Service over a store.
func NewService(s *store.Store) *Service {
	return &Service{store: s, Breaker: NewCircuitBreaker()}
}

// Pending lists every auth item awaiting human resolution.
func (svc *Service) Pending() ([]*model.AuthItem, error) {
	return svc.store.PendingAuthItems()
}

// Resolve applies a human's decision on a challenge. solved resets the
// breaker and requeues every blocked job at its original priority;
// skipped cancels them with a note instead.
func (svc *Service) Resolve(id string, action model.AuthChallengeStatus) (*model.AuthItem, error) {
	if action != model.AuthResolved && action != model.AuthSkipped {
		return nil, apierr.FieldError("action", "solved|skipped", "resolve_auth: action must be solved or skipped")
	}
	item, err := svc.store.ResolveAuthItem(id, action)
	if err != nil {
		return nil, err
	}

	switch action {
	case model.AuthResolved:
		svc.Breaker.Reset(item.Domain)
		for _, jobID := range item.BlockingJobIDs {
			if err := svc.store.RequeueJob(jobID); err != nil && err != store.ErrNotFound {
				return item, err
			}
		}
	case model.AuthSkipped:
		for _, jobID := range item.BlockingJobIDs {
			if err := svc.store.FinishJob(jobID, model.JobCancelled, "auth item skipped"); err != nil && err != store.ErrNotFound {
				return item, err
			}
		}
	}
	return item, nil
}

// CancelAuthItemsForTask resolves (as skipped) every pending auth item
// blocking a job of the given task, implementing scheduler.AuthCanceller
// for stop_task(mode=full)'s cascade to pending auth items. AuthItem
// carries no task_id directly, so membership is determined by
// intersecting its blocking job ids with the task's own job ids.
func (svc *Service) CancelAuthItemsForTask(taskID string) (int, error) {
	pending, err := svc.store.PendingAuthItems()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	jobs, err := svc.store.JobsByTask(taskID)
	if err != nil {
		return 0, err
	}
	taskJobIDs := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		taskJobIDs[j.ID] = true
	}

	var n int
	for _, item := range pending {
		if !blocksAny(item.BlockingJobIDs, taskJobIDs) {
			continue
		}
		if _, err := svc.Resolve(item.ID, model.AuthSkipped); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func blocksAny(blockingJobIDs []string, taskJobIDs map[string]bool) bool {
	for _, id := range blockingJobIDs {
		if taskJobIDs[id] {
			return true
		}
	}
	return false
}
