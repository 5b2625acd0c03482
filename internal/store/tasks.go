package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"veritas/internal/logging"
	"veritas/internal/model"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// CreateTask inserts a new Task in the `created` state.
func (s *Store) CreateTask(t *model.Task) error {
	timer := logging.StartTimer(logging.CategoryStore, "CreateTask")
	defer timer.Stop()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = model.TaskCreated
	}

	budgetJSON, err := json.Marshal(t.Budget)
	if err != nil {
		return fmt.Errorf("marshal budget: %w", err)
	}
	domainsJSON, err := json.Marshal(t.PriorityDomains)
	if err != nil {
		return fmt.Errorf("marshal priority_domains: %w", err)
	}
	metricsJSON, err := json.Marshal(t.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO tasks
		(id, central_hypothesis, budget_json, priority_domains_json, status, metrics_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CentralHypothesis, string(budgetJSON), string(domainsJSON), string(t.Status), string(metricsJSON), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	logging.Store("created task %s", t.ID)
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var budgetJSON, domainsJSON, metricsJSON string
	var status string
	if err := row.Scan(&t.ID, &t.CentralHypothesis, &budgetJSON, &domainsJSON, &status, &metricsJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	_ = json.Unmarshal([]byte(budgetJSON), &t.Budget)
	_ = json.Unmarshal([]byte(domainsJSON), &t.PriorityDomains)
	_ = json.Unmarshal([]byte(metricsJSON), &t.Metrics)
	return &t, nil
}

// GetTask fetches a Task by id.
func (s *Store) GetTask(id string) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT id, central_hypothesis, budget_json, priority_domains_json, status, metrics_json, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// UpdateTaskStatus transitions a task's status.
func (s *Store) UpdateTaskStatus(id string, status model.TaskStatus) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Store("task %s -> status %s", id, status)
	return nil
}

// UpdateTaskMetrics overwrites a task's metrics snapshot.
func (s *Store) UpdateTaskMetrics(id string, m model.Metrics) error {
	metricsJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.db.Exec(`UPDATE tasks SET metrics_json = ?, updated_at = ? WHERE id = ?`, string(metricsJSON), time.Now().UTC(), id)
	return err
}

// RecomputeMetrics derives a Metrics snapshot for a task from the jobs,
// pages, fragments, and claims tables, then persists it.
func (s *Store) RecomputeMetrics(taskID string) (model.Metrics, error) {
	var m model.Metrics

	row := s.db.QueryRow(`SELECT COUNT(*) FROM claims WHERE task_id = ?`, taskID)
	if err := row.Scan(&m.ClaimsExtracted); err != nil {
		return m, err
	}

	row = s.db.QueryRow(`SELECT COUNT(DISTINCT f.page_id) FROM fragments f
		JOIN edges e ON e.source_type='fragment' AND e.source_id=f.id
		JOIN claims c ON e.target_type='claim' AND e.target_id=c.id
		WHERE c.task_id = ?`, taskID)
	if err := row.Scan(&m.PagesIngested); err != nil {
		return m, err
	}

	row = s.db.QueryRow(`SELECT COUNT(*) FROM fragments f
		WHERE f.page_id IN (
			SELECT DISTINCT f2.page_id FROM fragments f2
			JOIN edges e ON e.source_type='fragment' AND e.source_id=f2.id
			JOIN claims c ON e.target_type='claim' AND e.target_id=c.id
			WHERE c.task_id = ?
		)`, taskID)
	if err := row.Scan(&m.FragmentsCreated); err != nil {
		return m, err
	}

	row = s.db.QueryRow(`SELECT COUNT(*) FROM edges e JOIN claims c ON e.target_type='claim' AND e.target_id=c.id
		WHERE c.task_id = ? AND e.relation IN ('supports','refutes','neutral')`, taskID)
	if err := row.Scan(&m.EdgesJudged); err != nil {
		return m, err
	}

	for state, dest := range map[model.JobState]*int{
		model.JobQueued:    &m.JobsQueued,
		model.JobRunning:   &m.JobsRunning,
		model.JobCompleted: &m.JobsCompleted,
		model.JobFailed:    &m.JobsFailed,
	} {
		row := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE task_id = ? AND state = ?`, taskID, string(state))
		if err := row.Scan(dest); err != nil {
			return m, err
		}
	}

	if err := s.UpdateTaskMetrics(taskID, m); err != nil {
		return m, err
	}
	return m, nil
}
