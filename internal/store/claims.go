package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"veritas/internal/logging"
	"veritas/internal/model"
)

// CreateClaim inserts a new Claim in `pending` adoption status.
func (s *Store) CreateClaim(c *model.Claim) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.AdoptionStatus == "" {
		c.AdoptionStatus = model.AdoptionPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	embedding := encodeEmbedding(c.Embedding)
	_, err := s.db.Exec(`INSERT INTO claims
		(id, task_id, claim_text, claim_type, granularity, llm_confidence, adoption_status, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.ClaimText, string(c.ClaimType), string(c.Granularity), c.LLMConfidence, string(c.AdoptionStatus), embedding, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	logging.StoreDebug("created claim %s (task=%s)", c.ID, c.TaskID)
	return nil
}

func scanClaim(row interface{ Scan(...any) error }) (*model.Claim, error) {
	var c model.Claim
	var claimType, granularity, adoption string
	var embedding []byte
	if err := row.Scan(&c.ID, &c.TaskID, &c.ClaimText, &claimType, &granularity, &c.LLMConfidence, &adoption, &embedding, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ClaimType = model.ClaimType(claimType)
	c.Granularity = model.ClaimGranularity(granularity)
	c.AdoptionStatus = model.AdoptionStatus(adoption)
	c.Embedding = decodeEmbedding(embedding)
	return &c, nil
}

// GetClaim fetches a claim by id.
func (s *Store) GetClaim(id string) (*model.Claim, error) {
	row := s.db.QueryRow(`SELECT id, task_id, claim_text, claim_type, granularity, llm_confidence, adoption_status, embedding, created_at
		FROM claims WHERE id = ?`, id)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ClaimsByTask returns every claim scoped to a task.
func (s *Store) ClaimsByTask(taskID string) ([]*model.Claim, error) {
	rows, err := s.db.Query(`SELECT id, task_id, claim_text, claim_type, granularity, llm_confidence, adoption_status, embedding, created_at
		FROM claims WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetClaimAdoption flips a claim's adoption_status without deleting rows
// (spec.md §4.9 feedback contract).
func (s *Store) SetClaimAdoption(claimID string, status model.AdoptionStatus) error {
	res, err := s.db.Exec(`UPDATE claims SET adoption_status = ? WHERE id = ?`, string(status), claimID)
	if err != nil {
		return fmt.Errorf("set claim adoption: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Store("claim %s adoption -> %s", claimID, status)
	return nil
}
