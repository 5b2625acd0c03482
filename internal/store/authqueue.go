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

// CreateAuthItem records a challenge page blocking one or more jobs. The
// scheduler moves those jobs to awaiting_auth in the same call path
// (see finishFailed in internal/scheduler/pool.go), keeping the two tables
// consistent.
func (s *Store) CreateAuthItem(a *model.AuthItem) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.AuthPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	blockingJSON, err := json.Marshal(a.BlockingJobIDs)
	if err != nil {
		return fmt.Errorf("marshal blocking_job_ids: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO auth_queue (id, domain, challenge_type, blocking_job_ids_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Domain, a.ChallengeType, string(blockingJSON), string(a.Status), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert auth item: %w", err)
	}
	logging.Auth("auth item %s created for domain %s (%s), blocking %d jobs", a.ID, a.Domain, a.ChallengeType, len(a.BlockingJobIDs))
	return nil
}

func scanAuthItem(row interface{ Scan(...any) error }) (*model.AuthItem, error) {
	var a model.AuthItem
	var status string
	var blockingJSON sql.NullString
	if err := row.Scan(&a.ID, &a.Domain, &a.ChallengeType, &blockingJSON, &status, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Status = model.AuthChallengeStatus(status)
	if blockingJSON.Valid {
		_ = json.Unmarshal([]byte(blockingJSON.String), &a.BlockingJobIDs)
	}
	return &a, nil
}

const authItemColumns = `id, domain, challenge_type, blocking_job_ids_json, status, created_at`

// GetAuthItem fetches an auth item by id.
func (s *Store) GetAuthItem(id string) (*model.AuthItem, error) {
	row := s.db.QueryRow(`SELECT `+authItemColumns+` FROM auth_queue WHERE id = ?`, id)
	a, err := scanAuthItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// PendingAuthItems lists every auth item awaiting human resolution, newest
// first so get_auth_queue surfaces the most recent challenges up top.
func (s *Store) PendingAuthItems() ([]*model.AuthItem, error) {
	rows, err := s.db.Query(`SELECT `+authItemColumns+` FROM auth_queue WHERE status = 'pending' ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.AuthItem
	for rows.Next() {
		a, err := scanAuthItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ResolveAuthItem marks an auth item solved or skipped. The caller
// (authqueue package) is responsible for requeuing or cancelling the
// blocking jobs afterward.
func (s *Store) ResolveAuthItem(id string, status model.AuthChallengeStatus) (*model.AuthItem, error) {
	if status != model.AuthResolved && status != model.AuthSkipped {
		return nil, fmt.Errorf("ResolveAuthItem: invalid terminal status %s", status)
	}
	a, err := s.GetAuthItem(id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AuthPending {
		return a, nil
	}
	if _, err := s.db.Exec(`UPDATE auth_queue SET status = ? WHERE id = ?`, string(status), id); err != nil {
		return nil, err
	}
	a.Status = status
	logging.Auth("auth item %s resolved as %s", id, status)
	return a, nil
}
