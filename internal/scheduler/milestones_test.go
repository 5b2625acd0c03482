package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"veritas/internal/model"
)

func job(kind model.JobKind, state model.JobState) *model.Job {
	return &model.Job{Kind: kind, State: state}
}

func TestDeriveMilestonesUnstartedKindIsNotDrained(t *testing.T) {
	m := DeriveMilestones(nil)
	require.False(t, m.TargetQueueDrained)
	require.False(t, m.NliVerificationDone)
	require.False(t, m.CitationChaseReady)
}

func TestDeriveMilestonesTargetQueueDrainedWhenAllTerminal(t *testing.T) {
	jobs := []*model.Job{
		job(model.JobTargetQueue, model.JobCompleted),
		job(model.JobTargetQueue, model.JobFailed),
	}
	m := DeriveMilestones(jobs)
	require.True(t, m.TargetQueueDrained)
}

func TestDeriveMilestonesNotDrainedWhileAnyQueuedOrRunning(t *testing.T) {
	jobs := []*model.Job{
		job(model.JobTargetQueue, model.JobCompleted),
		job(model.JobTargetQueue, model.JobRunning),
	}
	m := DeriveMilestones(jobs)
	require.False(t, m.TargetQueueDrained)
}

func TestDeriveMilestonesCitationChaseReadyRequiresACompletion(t *testing.T) {
	jobs := []*model.Job{job(model.JobCitationGraph, model.JobFailed)}
	m := DeriveMilestones(jobs)
	require.False(t, m.CitationChaseReady, "no citation_graph job ever completed")

	jobs = append(jobs, job(model.JobCitationGraph, model.JobCompleted))
	m = DeriveMilestones(jobs)
	require.True(t, m.CitationChaseReady)
}

func TestDeriveMilestonesAwaitingAuthIsNotTerminal(t *testing.T) {
	jobs := []*model.Job{job(model.JobVerifyNLI, model.JobAwaitingAuth)}
	m := DeriveMilestones(jobs)
	require.False(t, m.NliVerificationDone)
}
