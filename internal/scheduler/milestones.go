package scheduler

import "veritas/internal/model"

// Milestones are the boolean progress flags get_status's long-poll waits
// on (spec.md §4.7, §4.9).
type Milestones struct {
	TargetQueueDrained  bool `json:"target_queue_drained"`
	NliVerificationDone bool `json:"nli_verification_done"`
	CitationChaseReady  bool `json:"citation_chase_ready"`
}

// DeriveMilestones computes the milestone flags from a task's full job
// list. A kind that has never been queued reports its milestone as not
// yet reached (false) rather than vacuously true, since "drained" implies
// something ran and finished.
func DeriveMilestones(jobs []*model.Job) Milestones {
	byKind := make(map[model.JobKind]map[model.JobState]int)
	for _, j := range jobs {
		if byKind[j.Kind] == nil {
			byKind[j.Kind] = make(map[model.JobState]int)
		}
		byKind[j.Kind][j.State]++
	}

	return Milestones{
		TargetQueueDrained:  allTerminal(byKind[model.JobTargetQueue]),
		NliVerificationDone: allTerminal(byKind[model.JobVerifyNLI]),
		CitationChaseReady:  byKind[model.JobCitationGraph][model.JobCompleted] > 0 && allTerminal(byKind[model.JobCitationGraph]),
	}
}

// allTerminal reports whether every job counted in byState has reached a
// terminal state, and at least one job was counted at all.
func allTerminal(byState map[model.JobState]int) bool {
	if len(byState) == 0 {
		return false
	}
	for state, n := range byState {
		if n == 0 {
			continue
		}
		switch state {
		case model.JobQueued, model.JobRunning, model.JobAwaitingAuth:
			return false
		}
	}
	return true
}

// Milestones fetches the task's jobs and derives its current progress
// flags.
func (p *Pool) Milestones(taskID string) (Milestones, error) {
	jobs, err := p.store.JobsByTask(taskID)
	if err != nil {
		return Milestones{}, err
	}
	return DeriveMilestones(jobs), nil
}
