package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"veritas/internal/logging"
	"veritas/internal/model"
)

// FeedbackEdgeCorrect applies a human correction to an edge's relation. If
// the new label matches the edge's current label, it is a pure no-op: no
// nli_corrections row is written and no edge mutation occurs (spec.md §8
// round-trip property).
func (s *Store) FeedbackEdgeCorrect(edgeID string, newRelation model.EdgeRelation, newLabel string) error {
	edge, err := s.GetEdge(edgeID)
	if err != nil {
		return err
	}
	previous, changed, err := s.SetEdgeLabel(edgeID, newRelation, newLabel)
	if err != nil {
		return err
	}
	if !changed {
		logging.StoreDebug("feedback edge_correct %s: label unchanged (%s), no-op", edgeID, newLabel)
		return nil
	}
	_, err = s.db.Exec(`INSERT INTO nli_corrections (edge_id, predicted_label, correct_label, predicted_confidence, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		edgeID, previous, newLabel, edge.NLIConfidence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert nli_correction: %w", err)
	}
	logging.Store("feedback edge_correct %s: %s -> %s", edgeID, previous, newLabel)
	return nil
}

// FeedbackClaimReject marks a claim not_adopted.
func (s *Store) FeedbackClaimReject(claimID string) error {
	return s.SetClaimAdoption(claimID, model.AdoptionNotAdopted)
}

// FeedbackClaimRestore reverses a prior rejection, returning the claim to
// pending rather than forcing it straight to adopted.
func (s *Store) FeedbackClaimRestore(claimID string) error {
	return s.SetClaimAdoption(claimID, model.AdoptionPending)
}

// FeedbackDomainBlock marks a domain blocked: the search pipeline and
// scheduler must refuse to dispatch new jobs targeting it.
func (s *Store) FeedbackDomainBlock(domain string) error {
	_, err := s.db.Exec(`INSERT INTO domain_policy (domain, blocked, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(domain) DO UPDATE SET blocked = 1, updated_at = excluded.updated_at`,
		domain, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("domain_block: %w", err)
	}
	logging.Store("domain %s blocked", domain)
	return nil
}

// FeedbackDomainUnblock clears a block on a single domain.
func (s *Store) FeedbackDomainUnblock(domain string) error {
	_, err := s.db.Exec(`INSERT INTO domain_policy (domain, blocked, updated_at) VALUES (?, 0, ?)
		ON CONFLICT(domain) DO UPDATE SET blocked = 0, updated_at = excluded.updated_at`,
		domain, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("domain_unblock: %w", err)
	}
	logging.Store("domain %s unblocked", domain)
	return nil
}

// FeedbackDomainClearOverride removes a domain's policy row entirely,
// returning it to the unset default rather than an explicit unblocked
// state (distinguishing "never overridden" from "explicitly unblocked").
func (s *Store) FeedbackDomainClearOverride(domain string) error {
	_, err := s.db.Exec(`DELETE FROM domain_policy WHERE domain = ?`, domain)
	if err != nil {
		return fmt.Errorf("domain_clear_override: %w", err)
	}
	logging.Store("domain %s override cleared", domain)
	return nil
}

// IsDomainBlocked reports whether a domain currently has an explicit block
// policy. Unregistered domains (no row) are never blocked.
func (s *Store) IsDomainBlocked(domain string) (bool, error) {
	var blocked int
	err := s.db.QueryRow(`SELECT blocked FROM domain_policy WHERE domain = ?`, domain).Scan(&blocked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return blocked != 0, nil
}
