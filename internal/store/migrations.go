package store

import (
	"database/sql"
	"fmt"

	"veritas/internal/logging"
)

// migration is one forward-only schema step, applied inside a transaction.
// No destructive rewrites: every migration is additive (spec.md §6).
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "initial_schema", initialSchemaSQL},
}

const initialSchemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	central_hypothesis TEXT NOT NULL,
	budget_json TEXT NOT NULL,
	priority_domains_json TEXT,
	status TEXT NOT NULL,
	metrics_json TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pages (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	domain TEXT NOT NULL,
	page_type TEXT NOT NULL,
	fetched_at DATETIME,
	title TEXT,
	paper_metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_pages_domain ON pages(domain);

CREATE TABLE IF NOT EXISTS fragments (
	id TEXT PRIMARY KEY,
	page_id TEXT NOT NULL REFERENCES pages(id),
	fragment_type TEXT NOT NULL,
	text_content TEXT NOT NULL,
	heading_hierarchy_json TEXT,
	position INTEGER NOT NULL,
	scores_json TEXT,
	embedding BLOB,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_fragments_page ON fragments(page_id);

CREATE TABLE IF NOT EXISTS claims (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id),
	claim_text TEXT NOT NULL,
	claim_type TEXT NOT NULL,
	granularity TEXT NOT NULL,
	llm_confidence REAL NOT NULL,
	adoption_status TEXT NOT NULL,
	embedding BLOB,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_claims_task ON claims(task_id);

CREATE TABLE IF NOT EXISTS edges (
	id TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	source_id TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relation TEXT NOT NULL,
	nli_label TEXT,
	nli_confidence REAL,
	citation_source TEXT,
	edge_human_corrected INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_type, source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_type, target_id);
CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation);
-- Enforces "at most one supports/refutes/neutral edge per (claim,fragment)"
-- for the judgement relations specifically; cites/evidence_source are
-- exempted by the index's WHERE clause, see edges.go UpsertJudgementEdge.
CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_judgement_unique
	ON edges(source_id, target_id)
	WHERE relation IN ('supports', 'refutes', 'neutral');

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id),
	kind TEXT NOT NULL,
	priority TEXT NOT NULL,
	priority_rank INTEGER NOT NULL,
	state TEXT NOT NULL,
	queued_at DATETIME NOT NULL,
	started_at DATETIME,
	finished_at DATETIME,
	input_json TEXT,
	error_message TEXT,
	dedupe_key TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_task ON jobs(task_id);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_claim_order ON jobs(state, priority_rank, queued_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedupe ON jobs(task_id, dedupe_key)
	WHERE dedupe_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS auth_queue (
	id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	challenge_type TEXT NOT NULL,
	blocking_job_ids_json TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_auth_status ON auth_queue(status);
CREATE INDEX IF NOT EXISTS idx_auth_domain ON auth_queue(domain);

CREATE TABLE IF NOT EXISTS nli_corrections (
	edge_id TEXT NOT NULL,
	predicted_label TEXT NOT NULL,
	correct_label TEXT NOT NULL,
	predicted_confidence REAL NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_nli_corrections_edge ON nli_corrections(edge_id);

CREATE TABLE IF NOT EXISTS calibration_params (
	source TEXT PRIMARY KEY,
	params_json TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS calibration_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	params_json TEXT NOT NULL,
	active_from DATETIME DEFAULT CURRENT_TIMESTAMP,
	rolled_back_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_calibration_history_source ON calibration_history(source);

CREATE TABLE IF NOT EXISTS serp_cache (
	cache_key TEXT PRIMARY KEY,
	normalized_query TEXT NOT NULL,
	engines_set TEXT NOT NULL,
	time_range TEXT NOT NULL,
	page INTEGER NOT NULL,
	results_json TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_serp_cache_query ON serp_cache(normalized_query);

CREATE TABLE IF NOT EXISTS domain_policy (
	domain TEXT PRIMARY KEY,
	blocked INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// RunMigrations applies any migration not yet recorded in schema_version,
// each inside its own transaction, in ascending version order.
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.Query("SELECT version FROM schema_version")
	if err != nil {
		return fmt.Errorf("failed to read schema_version: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		logging.StoreDebug("applying migration %d: %s", m.version, m.name)
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: begin failed: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: recording version failed: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit failed: %w", m.version, err)
		}
	}
	return nil
}
