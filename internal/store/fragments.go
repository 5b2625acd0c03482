package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"veritas/internal/logging"
	"veritas/internal/model"
)

// CreateFragment inserts a new, immutable Fragment.
func (s *Store) CreateFragment(f *model.Fragment) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	headingJSON, err := json.Marshal(f.HeadingHierarchy)
	if err != nil {
		return fmt.Errorf("marshal heading_hierarchy: %w", err)
	}
	scoresJSON, err := json.Marshal(f.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	embedding := encodeEmbedding(f.Embedding)

	_, err = s.db.Exec(`INSERT INTO fragments
		(id, page_id, fragment_type, text_content, heading_hierarchy_json, position, scores_json, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.PageID, string(f.FragmentType), f.TextContent, string(headingJSON), f.Position, string(scoresJSON), embedding)
	if err != nil {
		return fmt.Errorf("insert fragment: %w", err)
	}
	logging.StoreDebug("created fragment %s (page=%s type=%s)", f.ID, f.PageID, f.FragmentType)
	return nil
}

func scanFragment(row interface{ Scan(...any) error }) (*model.Fragment, error) {
	var fr model.Fragment
	var fragmentType string
	var headingJSON, scoresJSON sql.NullString
	var embedding []byte
	if err := row.Scan(&fr.ID, &fr.PageID, &fragmentType, &fr.TextContent, &headingJSON, &fr.Position, &scoresJSON, &embedding); err != nil {
		return nil, err
	}
	fr.FragmentType = model.FragmentType(fragmentType)
	if headingJSON.Valid {
		_ = json.Unmarshal([]byte(headingJSON.String), &fr.HeadingHierarchy)
	}
	if scoresJSON.Valid {
		_ = json.Unmarshal([]byte(scoresJSON.String), &fr.Scores)
	}
	fr.Embedding = decodeEmbedding(embedding)
	return &fr, nil
}

// GetFragment fetches a fragment by id.
func (s *Store) GetFragment(id string) (*model.Fragment, error) {
	row := s.db.QueryRow(`SELECT id, page_id, fragment_type, text_content, heading_hierarchy_json, position, scores_json, embedding
		FROM fragments WHERE id = ?`, id)
	fr, err := scanFragment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return fr, err
}

// FragmentsByPage returns all fragments of a page ordered by source position.
func (s *Store) FragmentsByPage(pageID string) ([]*model.Fragment, error) {
	rows, err := s.db.Query(`SELECT id, page_id, fragment_type, text_content, heading_hierarchy_json, position, scores_json, embedding
		FROM fragments WHERE page_id = ? ORDER BY position ASC`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Fragment
	for rows.Next() {
		fr, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// CountFragmentsByPage returns how many fragments a page already has, used
// to enforce the per-page fragment cap (spec.md §4.5 "Bounds").
func (s *Store) CountFragmentsByPage(pageID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM fragments WHERE page_id = ?`, pageID).Scan(&n)
	return n, err
}

// DeleteFragment removes a fragment, used when FCE replaces a page's raw
// placeholder content with its real segmented sequence.
func (s *Store) DeleteFragment(id string) error {
	res, err := s.db.Exec(`DELETE FROM fragments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete fragment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
