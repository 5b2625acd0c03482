package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veritas/internal/apierr"
	"veritas/internal/model"
	"veritas/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "veritas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTask(t *testing.T, s *store.Store) string {
	t.Helper()
	task := &model.Task{CentralHypothesis: "x causes y", Status: model.TaskExploring}
	require.NoError(t, s.CreateTask(task))
	return task.ID
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met within timeout")
}

func TestPoolRunsJobToCompletionAndChainsFollowUp(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	_, _, err := s.CreateJob(&model.Job{TaskID: taskID, Kind: model.JobTargetQueue, Priority: model.PriorityHigh}, "")
	require.NoError(t, err)

	p := NewPool(s, 1)
	var handled int32
	p.RegisterHandler(model.JobTargetQueue, HandlerFunc(func(ctx context.Context, job *model.Job) (HandlerResult, error) {
		atomic.AddInt32(&handled, 1)
		return HandlerResult{FollowUps: []FollowUpJob{{Kind: model.JobVerifyNLI, Priority: model.PriorityMedium}}}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Stop() }()

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&handled) == 1 })

	jobs, err := s.JobsByTask(taskID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	var sawCompleted, sawFollowUp bool
	for _, j := range jobs {
		if j.Kind == model.JobTargetQueue {
			require.Equal(t, model.JobCompleted, j.State)
			sawCompleted = true
		}
		if j.Kind == model.JobVerifyNLI {
			sawFollowUp = true
		}
	}
	require.True(t, sawCompleted)
	require.True(t, sawFollowUp)
}

func TestPoolMarksJobFailedOnHandlerError(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	_, _, err := s.CreateJob(&model.Job{TaskID: taskID, Kind: model.JobTargetQueue, Priority: model.PriorityHigh}, "")
	require.NoError(t, err)

	p := NewPool(s, 1)
	p.RegisterHandler(model.JobTargetQueue, HandlerFunc(func(ctx context.Context, job *model.Job) (HandlerResult, error) {
		return HandlerResult{}, apierr.New(apierr.KindTransient, "boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Stop() }()

	var job *model.Job
	waitFor(t, time.Second, func() bool {
		jobs, _ := s.JobsByTask(taskID)
		for _, j := range jobs {
			if j.State == model.JobFailed {
				job = j
				return true
			}
		}
		return false
	})
	require.Contains(t, job.ErrorMessage, "boom")
}

func TestPoolSetsAwaitingAuthOnChallengeError(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	_, _, err := s.CreateJob(&model.Job{TaskID: taskID, Kind: model.JobTargetQueue, Priority: model.PriorityHigh}, "")
	require.NoError(t, err)

	p := NewPool(s, 1)
	p.RegisterHandler(model.JobTargetQueue, HandlerFunc(func(ctx context.Context, job *model.Job) (HandlerResult, error) {
		return HandlerResult{}, apierr.New(apierr.KindChallenge, "login wall")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Stop() }()

	waitFor(t, time.Second, func() bool {
		jobs, _ := s.JobsByTask(taskID)
		for _, j := range jobs {
			if j.State == model.JobAwaitingAuth {
				return true
			}
		}
		return false
	})
}

func TestPoolCancelImmediateCancelsRunningJobContext(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	_, _, err := s.CreateJob(&model.Job{TaskID: taskID, Kind: model.JobTargetQueue, Priority: model.PriorityHigh}, "")
	require.NoError(t, err)

	p := NewPool(s, 1)
	started := make(chan struct{})
	p.RegisterHandler(model.JobTargetQueue, HandlerFunc(func(ctx context.Context, job *model.Job) (HandlerResult, error) {
		close(started)
		<-ctx.Done()
		return HandlerResult{}, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Stop() }()

	<-started
	n, err := p.Cancel(taskID, ModeImmediate, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, n, "the running job's row isn't written by the store-level cancel; only its context is cancelled")

	waitFor(t, time.Second, func() bool {
		jobs, _ := s.JobsByTask(taskID)
		for _, j := range jobs {
			if j.State == model.JobCancelled {
				return true
			}
		}
		return false
	})
}

// TestPoolCancelImmediateLeavesRunningRowAloneUntilHandlerReturns guards
// against a running -> cancelled -> completed history: CancelJobsForTask
// must not eagerly flip a still-running row to cancelled, since the
// handler's own eventual FinishJob call (completed, if it doesn't notice
// ctx.Done()) would otherwise race it and silently overwrite the terminal
// cancelled state.
func TestPoolCancelImmediateLeavesRunningRowAloneUntilHandlerReturns(t *testing.T) {
	s := newTestStore(t)
	taskID := newTestTask(t, s)
	_, _, err := s.CreateJob(&model.Job{TaskID: taskID, Kind: model.JobTargetQueue, Priority: model.PriorityHigh}, "")
	require.NoError(t, err)

	p := NewPool(s, 1)
	started := make(chan struct{})
	releaseHandler := make(chan struct{})
	p.RegisterHandler(model.JobTargetQueue, HandlerFunc(func(ctx context.Context, job *model.Job) (HandlerResult, error) {
		close(started)
		<-releaseHandler
		return HandlerResult{}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Stop() }()

	<-started
	_, err = p.Cancel(taskID, ModeImmediate, nil)
	require.NoError(t, err)

	jobs, err := s.JobsByTask(taskID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, model.JobRunning, jobs[0].State, "CancelJobsForTask must not write a running row; only the handler's own context sees the cancellation")

	close(releaseHandler)
	waitFor(t, time.Second, func() bool {
		jobs, _ := s.JobsByTask(taskID)
		return len(jobs) == 1 && jobs[0].State == model.JobCompleted
	})
}

func TestClaimableKindsOnlyIncludesRegisteredHandlers(t *testing.T) {
	s := newTestStore(t)
	p := NewPool(s, 1)
	require.Empty(t, p.claimableKinds())
	p.RegisterHandler(model.JobTargetQueue, HandlerFunc(func(ctx context.Context, job *model.Job) (HandlerResult, error) {
		return HandlerResult{}, nil
	}))
	require.ElementsMatch(t, []model.JobKind{model.JobTargetQueue}, p.claimableKinds())
}
