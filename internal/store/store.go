// Package store implements the Storage component (SG): a single-file
// SQLite-backed evidence graph, job table, caches, and feedback tables,
// exposing transactional writes to internal components and a read-only
// SQL surface to the client (spec.md §4.1).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"veritas/internal/logging"
)

// Store is the embedded relational evidence graph store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	vectorExt bool
	guard     *queryGuard
}

// Open initializes (or reopens) the SQLite database at path, running any
// pending migrations.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	guard := &queryGuard{}
	driverName := registerGuardedDriver(guard)

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the authorizer/progress-handler hooks used
	// by Execute() scoped to one physical SQLite connection, and avoids
	// SQLITE_BUSY under the WAL writer lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryStore).Warn("pragma failed (%s): %v", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: path, guard: guard}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	s.detectVecExtension()

	logging.Store("store opened at %s (vector_ext=%v)", path, s.vectorExt)
	return s, nil
}

// detectVecExtension probes for the sqlite-vec vec0 virtual table. Absence
// is non-fatal: vector_search always uses a brute-force cosine scan.
func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// DB exposes the underlying *sql.DB for components that need direct
// transactional access (scheduler claim updates, graph loading).
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database connection.
func (s *Store) Close() error {
	logging.Store("closing store")
	return s.db.Close()
}
