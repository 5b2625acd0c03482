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

var judgementRelations = map[model.EdgeRelation]bool{
	model.RelationSupports: true,
	model.RelationRefutes:  true,
	model.RelationNeutral:  true,
}

// UpsertJudgementEdge writes a Fragment->Claim supports/refutes/neutral
// edge, replacing any prior judgement edge for the same (fragment, claim)
// pair rather than duplicating it (spec.md §3 invariant, §8 idempotence).
// Returns whether an existing row was replaced; the new edge id is written
// to e.ID.
func (s *Store) UpsertJudgementEdge(e *model.Edge) (replaced bool, err error) {
	if !judgementRelations[e.Relation] {
		return false, fmt.Errorf("relation %s is not a judgement relation", e.Relation)
	}
	timer := logging.StartTimer(logging.CategoryStore, "UpsertJudgementEdge")
	defer timer.Stop()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var existingID string
	var existingLabel string
	row := tx.QueryRow(`SELECT id, relation FROM edges
		WHERE source_type=? AND source_id=? AND target_type=? AND target_id=?
		AND relation IN ('supports','refutes','neutral')`,
		string(e.SourceType), e.SourceID, string(e.TargetType), e.TargetID)
	scanErr := row.Scan(&existingID, &existingLabel)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		return false, scanErr
	}
	if scanErr == nil {
		replaced = true
		if existingLabel == string(e.Relation) && e.ID == "" {
			// Same-label re-judgement is a no-op at the NliCorrection layer
			// but we still refresh confidence/created_at for the edge row
			// itself, since NLI confidence may differ run to run.
		}
		if _, err := tx.Exec(`DELETE FROM edges WHERE id = ?`, existingID); err != nil {
			return false, err
		}
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(`INSERT INTO edges
		(id, source_type, source_id, target_type, target_id, relation, nli_label, nli_confidence, citation_source, edge_human_corrected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.SourceType), e.SourceID, string(e.TargetType), e.TargetID, string(e.Relation),
		e.NLILabel, e.NLIConfidence, nullableString(string(e.CitationSource)), boolToInt(e.EdgeHumanCorrected), e.CreatedAt)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	logging.StoreDebug("judgement edge %s: %s --%s--> %s (replaced=%v)", e.ID, e.SourceID, e.Relation, e.TargetID, replaced)
	return replaced, nil
}

// CreateCitationEdge inserts a Page->Page `cites` edge. Citation edges are
// not deduplicated by a unique index (a page may cite another via multiple
// discovered routes), but CreateCitationEdge itself checks for an existing
// identical edge to avoid runaway duplication across repeated citation_graph
// runs.
func (s *Store) CreateCitationEdge(sourcePageID, targetPageID string, source model.CitationSource) error {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM edges WHERE source_type='page' AND source_id=? AND target_type='page' AND target_id=? AND relation='cites'`,
		sourcePageID, targetPageID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	_, err = s.db.Exec(`INSERT INTO edges (id, source_type, source_id, target_type, target_id, relation, citation_source, created_at)
		VALUES (?, 'page', ?, 'page', ?, 'cites', ?, ?)`,
		uuid.NewString(), sourcePageID, targetPageID, string(source), time.Now().UTC())
	return err
}

func scanEdge(row interface{ Scan(...any) error }) (*model.Edge, error) {
	var e model.Edge
	var sourceType, targetType, relation string
	var nliLabel, citationSource sql.NullString
	var nliConfidence sql.NullFloat64
	var corrected int
	if err := row.Scan(&e.ID, &sourceType, &e.SourceID, &targetType, &e.TargetID, &relation, &nliLabel, &nliConfidence, &citationSource, &corrected, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.SourceType = model.EntityType(sourceType)
	e.TargetType = model.EntityType(targetType)
	e.Relation = model.EdgeRelation(relation)
	e.NLILabel = nliLabel.String
	e.NLIConfidence = nliConfidence.Float64
	e.CitationSource = model.CitationSource(citationSource.String)
	e.EdgeHumanCorrected = corrected != 0
	return &e, nil
}

const edgeColumns = `id, source_type, source_id, target_type, target_id, relation, nli_label, nli_confidence, citation_source, edge_human_corrected, created_at`

// GetEdge fetches an edge by id.
func (s *Store) GetEdge(id string) (*model.Edge, error) {
	row := s.db.QueryRow(`SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// EdgesByClaim returns every Fragment->Claim judgement edge for a claim.
func (s *Store) EdgesByClaim(claimID string) ([]*model.Edge, error) {
	rows, err := s.db.Query(`SELECT `+edgeColumns+` FROM edges
		WHERE target_type='claim' AND target_id=? AND relation IN ('supports','refutes','neutral')`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CitationEdgesFrom returns the `cites` edges whose source is pageID (used
// to build reference candidates and the citation subgraph).
func (s *Store) CitationEdgesFrom(pageID string) ([]*model.Edge, error) {
	rows, err := s.db.Query(`SELECT `+edgeColumns+` FROM edges WHERE source_type='page' AND source_id=? AND relation='cites'`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetEdgeLabel updates an edge's relation/label after a human correction
// (feedback edge_correct). Returns the previous label so callers can decide
// whether to append an NliCorrection row (no-op when unchanged, spec.md §8).
func (s *Store) SetEdgeLabel(edgeID string, newRelation model.EdgeRelation, newLabel string) (previousLabel string, changed bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRow(`SELECT nli_label FROM edges WHERE id = ?`, edgeID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, ErrNotFound
		}
		return "", false, err
	}
	if current == newLabel {
		return current, false, tx.Commit()
	}
	if _, err := tx.Exec(`UPDATE edges SET relation = ?, nli_label = ?, edge_human_corrected = 1 WHERE id = ?`,
		string(newRelation), newLabel, edgeID); err != nil {
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	return current, true, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
