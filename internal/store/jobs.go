package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"veritas/internal/logging"
	"veritas/internal/model"
)

const jobColumns = `id, task_id, kind, priority, priority_rank, state, queued_at, started_at, finished_at, input_json, error_message, dedupe_key`

// CreateJob inserts a queued job. dedupeKey, when non-empty, is enforced
// unique per task by idx_jobs_dedupe: a second CreateJob call with the same
// (task_id, dedupe_key) is a no-op that returns the existing job's id,
// giving queue_targets its idempotence (spec.md §4.7, §8).
func (s *Store) CreateJob(j *model.Job, dedupeKey string) (id string, deduped bool, err error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.State == "" {
		j.State = model.JobQueued
	}
	if j.QueuedAt.IsZero() {
		j.QueuedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`INSERT INTO jobs
		(id, task_id, kind, priority, priority_rank, state, queued_at, input_json, dedupe_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TaskID, string(j.Kind), string(j.Priority), j.Priority.Rank(), string(j.State), j.QueuedAt, j.Input, nullableString(dedupeKey))
	if err == nil {
		logging.SchedulerDebug("queued job %s (task=%s kind=%s priority=%s)", j.ID, j.TaskID, j.Kind, j.Priority)
		return j.ID, false, nil
	}
	if dedupeKey != "" && isUniqueConstraintErr(err) {
		var existingID string
		lookupErr := s.db.QueryRow(`SELECT id FROM jobs WHERE task_id = ? AND dedupe_key = ?`, j.TaskID, dedupeKey).Scan(&existingID)
		if lookupErr != nil {
			return "", false, fmt.Errorf("create job: dedupe conflict but lookup failed: %w", lookupErr)
		}
		logging.SchedulerDebug("job dedupe hit for task=%s key=%s -> existing job %s", j.TaskID, dedupeKey, existingID)
		return existingID, true, nil
	}
	return "", false, fmt.Errorf("insert job: %w", err)
}

// isUniqueConstraintErr detects a SQLite UNIQUE constraint violation without
// importing the mattn/go-sqlite3 error type directly, keeping this helper
// usable from any driver error string shape.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	var j model.Job
	var kind, priority, state string
	var rank int
	var startedAt, finishedAt sql.NullTime
	var input, errMsg, dedupeKey sql.NullString
	if err := row.Scan(&j.ID, &j.TaskID, &kind, &priority, &rank, &state, &j.QueuedAt, &startedAt, &finishedAt, &input, &errMsg, &dedupeKey); err != nil {
		return nil, err
	}
	j.Kind = model.JobKind(kind)
	j.Priority = model.JobPriority(priority)
	j.State = model.JobState(state)
	j.Input = input.String
	j.ErrorMessage = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(id string) (*model.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// JobsByTask returns every job belonging to a task, in queued_at order.
func (s *Store) JobsByTask(taskID string) ([]*model.Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE task_id = ? ORDER BY queued_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClaimNextJob atomically moves the highest-priority, oldest-queued job of
// a task (or any task when taskID is empty, for a shared worker pool) from
// queued to running and returns it. Uses UPDATE...RETURNING so the claim
// and the row mutation are a single atomic statement under the store's
// single-connection model, avoiding the race of SELECT-then-UPDATE across
// concurrent workers (spec.md §4.7).
func (s *Store) ClaimNextJob(taskID string, kinds []model.JobKind) (*model.Job, error) {
	var (
		query string
		args  []any
	)
	switch {
	case taskID != "" && len(kinds) > 0:
		placeholders, kindArgs := buildInClause(kindStrings(kinds))
		query = `UPDATE jobs SET state = 'running', started_at = ?
			WHERE id = (
				SELECT id FROM jobs WHERE task_id = ? AND state = 'queued' AND kind IN (` + placeholders + `)
				ORDER BY priority_rank ASC, queued_at ASC LIMIT 1
			)
			RETURNING ` + jobColumns
		args = append([]any{time.Now().UTC(), taskID}, kindArgs...)
	case taskID != "":
		query = `UPDATE jobs SET state = 'running', started_at = ?
			WHERE id = (
				SELECT id FROM jobs WHERE task_id = ? AND state = 'queued'
				ORDER BY priority_rank ASC, queued_at ASC LIMIT 1
			)
			RETURNING ` + jobColumns
		args = []any{time.Now().UTC(), taskID}
	default:
		query = `UPDATE jobs SET state = 'running', started_at = ?
			WHERE id = (
				SELECT id FROM jobs WHERE state = 'queued'
				ORDER BY priority_rank ASC, queued_at ASC LIMIT 1
			)
			RETURNING ` + jobColumns
		args = []any{time.Now().UTC()}
	}

	row := s.db.QueryRow(query, args...)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	logging.SchedulerDebug("claimed job %s (task=%s kind=%s)", j.ID, j.TaskID, j.Kind)
	return j, nil
}

func kindStrings(kinds []model.JobKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// FinishJob marks a job completed or failed, recording its error message.
// The WHERE clause excludes rows already in a terminal state so a handler
// that returns after its job has been cancelled (state already flipped to
// 'cancelled' by CancelJobsForTask or a prior FinishJob call) can never
// clobber that terminal state back to 'completed'/'failed' — cancelled is
// terminal and this is the only guard standing between a running->cancelled
// row and a late Handle return racing it back to completed.
func (s *Store) FinishJob(id string, state model.JobState, errMsg string) error {
	if state != model.JobCompleted && state != model.JobFailed && state != model.JobCancelled {
		return fmt.Errorf("FinishJob: invalid terminal state %s", state)
	}
	res, err := s.db.Exec(`UPDATE jobs SET state = ?, finished_at = ?, error_message = ?
		WHERE id = ? AND state NOT IN ('completed', 'failed', 'cancelled')`,
		string(state), time.Now().UTC(), nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.GetJob(id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		logging.SchedulerDebug("job %s already terminal, ignoring FinishJob(%s)", id, state)
		return nil
	}
	logging.SchedulerDebug("job %s -> %s", id, state)
	return nil
}

// SetJobAwaitingAuth transitions a running job into awaiting_auth (it
// cannot currently make progress due to an unresolved challenge page).
func (s *Store) SetJobAwaitingAuth(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET state = 'awaiting_auth' WHERE id = ? AND state IN ('queued', 'running')`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueJob moves an awaiting_auth (or cancelled, for retry scenarios)
// job back to queued, used when an AuthItem is resolved.
func (s *Store) RequeueJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET state = 'queued', started_at = NULL WHERE id = ? AND state = 'awaiting_auth'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.SchedulerDebug("requeued job %s", id)
	return nil
}

// CancelJobsForTask cancels jobs of a task according to stop_task's scope.
// It only ever writes 'cancelled' for 'queued'/'awaiting_auth' rows — a
// 'running' row is never overwritten here, even under immediate/full mode.
// For a running job, Pool.Cancel separately cancels the handler's context;
// FinishJob is the single writer of that job's terminal state once Handle
// actually returns, which is what keeps a running->cancelled->completed
// history from ever happening (cancelled is terminal).
func (s *Store) CancelJobsForTask(taskID string, scope []model.JobKind) (int64, error) {
	query := `UPDATE jobs SET state = 'cancelled', finished_at = ? WHERE task_id = ? AND state IN ('queued', 'awaiting_auth')`
	args := []any{time.Now().UTC(), taskID}
	if len(scope) > 0 {
		placeholders, kindArgs := buildInClause(kindStrings(scope))
		query += ` AND kind IN (` + placeholders + `)`
		args = append(args, kindArgs...)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	logging.Scheduler("cancelled %d queued/awaiting_auth jobs for task %s (scope=%v)", n, taskID, scope)
	return n, nil
}

// QueuedJobsByKind returns every still-queued job of a kind across all
// tasks, used by domain-block enforcement to find jobs targeting a
// newly-blocked domain regardless of which task queued them.
func (s *Store) QueuedJobsByKind(kind model.JobKind) ([]*model.Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE kind = ? AND state = 'queued' ORDER BY queued_at ASC`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CountJobsByState returns state -> count for a task, used by
// RecomputeMetrics and milestone derivation.
func (s *Store) CountJobsByState(taskID string) (map[model.JobState]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM jobs WHERE task_id = ? GROUP BY state`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.JobState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[model.JobState(state)] = n
	}
	return out, rows.Err()
}
