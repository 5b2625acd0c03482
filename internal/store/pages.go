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

// GetPageByURL looks up a page by its canonical URL. Returns ErrNotFound if
// absent.
func (s *Store) GetPageByURL(url string) (*model.Page, error) {
	row := s.db.QueryRow(`SELECT id, url, domain, page_type, fetched_at, title, paper_metadata_json
		FROM pages WHERE url = ?`, url)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetPage looks up a page by id.
func (s *Store) GetPage(id string) (*model.Page, error) {
	row := s.db.QueryRow(`SELECT id, url, domain, page_type, fetched_at, title, paper_metadata_json
		FROM pages WHERE id = ?`, id)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanPage(row interface{ Scan(...any) error }) (*model.Page, error) {
	var p model.Page
	var fetchedAt sql.NullTime
	var metaJSON sql.NullString
	var pageType string
	if err := row.Scan(&p.ID, &p.URL, &p.Domain, &pageType, &fetchedAt, &p.Title, &metaJSON); err != nil {
		return nil, err
	}
	p.PageType = model.PageType(pageType)
	if fetchedAt.Valid {
		p.FetchedAt = fetchedAt.Time
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &p.PaperMetadata)
	}
	return &p, nil
}

// UpsertPage creates a page if its URL is unseen, or merges paper_metadata
// into the existing row otherwise (merge-only: non-null fields are never
// overwritten, spec.md §3 invariant). Returns the resulting page.
func (s *Store) UpsertPage(p *model.Page) (*model.Page, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertPage")
	defer timer.Stop()

	existing, err := s.GetPageByURL(p.URL)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if errors.Is(err, ErrNotFound) {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.FetchedAt.IsZero() {
			p.FetchedAt = time.Now().UTC()
		}
		metaJSON, err := json.Marshal(p.PaperMetadata)
		if err != nil {
			return nil, fmt.Errorf("marshal paper_metadata: %w", err)
		}
		_, err = s.db.Exec(`INSERT INTO pages (id, url, domain, page_type, fetched_at, title, paper_metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.URL, p.Domain, string(p.PageType), p.FetchedAt, p.Title, string(metaJSON))
		if err != nil {
			return nil, fmt.Errorf("insert page: %w", err)
		}
		logging.Store("created page %s (%s)", p.ID, p.URL)
		return p, nil
	}

	merged := existing.PaperMetadata
	merged.Merge(p.PaperMetadata)
	if existing.Title == "" {
		existing.Title = p.Title
	}
	metaJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged paper_metadata: %w", err)
	}
	_, err = s.db.Exec(`UPDATE pages SET paper_metadata_json = ?, title = COALESCE(NULLIF(title,''), ?) WHERE id = ?`,
		string(metaJSON), existing.Title, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("merge page metadata: %w", err)
	}
	existing.PaperMetadata = merged
	logging.Store("merged page %s (%s)", existing.ID, existing.URL)
	return existing, nil
}

// SetPageType updates a page's classification after the fact — used when
// a fetched page parses to zero fragments (spec.md §4.4 edge case: still
// counted toward page budget, recorded as page_type=empty).
func (s *Store) SetPageType(id string, pageType model.PageType) error {
	res, err := s.db.Exec(`UPDATE pages SET page_type = ? WHERE id = ?`, string(pageType), id)
	if err != nil {
		return fmt.Errorf("set page_type: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PagesByIDs fetches multiple pages, chunking the IN-list to stay under
// SQLite's default bound-parameter limit (spec.md §4.1 "Key policies").
func (s *Store) PagesByIDs(ids []string) ([]*model.Page, error) {
	var out []*model.Page
	for _, chunk := range inChunks(ids, 900) {
		placeholders, args := buildInClause(chunk)
		rows, err := s.db.Query(`SELECT id, url, domain, page_type, fetched_at, title, paper_metadata_json
			FROM pages WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			p, err := scanPage(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// PagesIngestedByTask returns every Page that has produced at least one
// judgement edge for one of task's claims, the same source-page join
// RecomputeMetrics uses for its pages_ingested count. queue_reference_candidates
// uses this to scope the global citation subgraph down to one task's
// already-ingested sources.
func (s *Store) PagesIngestedByTask(taskID string) ([]*model.Page, error) {
	rows, err := s.db.Query(`SELECT DISTINCT p.id, p.url, p.domain, p.page_type, p.fetched_at, p.title, p.paper_metadata_json
		FROM pages p
		JOIN fragments f ON f.page_id = p.id
		JOIN edges e ON e.source_type='fragment' AND e.source_id=f.id
		JOIN claims c ON e.target_type='claim' AND e.target_id=c.id
		WHERE c.task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
