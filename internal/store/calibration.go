package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"veritas/internal/logging"
)

// CalibrationParams is the persisted per-source calibration state: an
// opaque JSON blob whose shape is owned by internal/calibration (Platt
// slope/intercept, Temperature scalar, or empty for NullTransform).
type CalibrationParams struct {
	Source    string    `json:"source"`
	ParamsJSON string   `json:"params_json"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetCalibrationParams fetches the active params for a source, or
// ErrNotFound if none have ever been set (callers fall back to defaults).
func (s *Store) GetCalibrationParams(source string) (*CalibrationParams, error) {
	var p CalibrationParams
	p.Source = source
	err := s.db.QueryRow(`SELECT params_json, updated_at FROM calibration_params WHERE source = ?`, source).
		Scan(&p.ParamsJSON, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetCalibrationParams upserts a source's active params and appends the
// prior value (if any) to calibration_history so calibration_rollback can
// restore it.
func (s *Store) SetCalibrationParams(source, paramsJSON string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(`SELECT params_json FROM calibration_params WHERE source = ?`, source).Scan(&existing)
	switch {
	case err == nil:
		if _, err := tx.Exec(`INSERT INTO calibration_history (source, params_json, active_from) VALUES (?, ?, ?)`,
			source, existing, time.Now().UTC()); err != nil {
			return fmt.Errorf("archive calibration history: %w", err)
		}
		if _, err := tx.Exec(`UPDATE calibration_params SET params_json = ?, updated_at = ? WHERE source = ?`,
			paramsJSON, time.Now().UTC(), source); err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.Exec(`INSERT INTO calibration_params (source, params_json, updated_at) VALUES (?, ?, ?)`,
			source, paramsJSON, time.Now().UTC()); err != nil {
			return err
		}
	default:
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Graph("calibration params updated for source %s", source)
	return nil
}

// RollbackCalibration restores the most recent calibration_history entry
// for a source as its active params, marking that history row consumed.
func (s *Store) RollbackCalibration(source string) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var historyID int64
	var paramsJSON string
	err = tx.QueryRow(`SELECT id, params_json FROM calibration_history
		WHERE source = ? AND rolled_back_at IS NULL ORDER BY active_from DESC LIMIT 1`, source).
		Scan(&historyID, &paramsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(`UPDATE calibration_params SET params_json = ?, updated_at = ? WHERE source = ?`,
		paramsJSON, time.Now().UTC(), source); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`UPDATE calibration_history SET rolled_back_at = ? WHERE id = ?`, time.Now().UTC(), historyID); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	logging.Graph("calibration for source %s rolled back", source)
	return paramsJSON, nil
}
