package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"veritas/internal/apierr"
	"veritas/internal/logging"
)

// queryGuard backs the read-only authorizer and step-budget progress
// handler installed on the store's single connection. It is inert
// (authorizer allows everything, progress handler never aborts) until
// Execute activates it for the duration of one client query, so internal
// components writing through the same connection are unaffected.
type queryGuard struct {
	mu       sync.Mutex
	active   bool
	deadline time.Time
	maxSteps int64
	steps    int64
	aborted  string // reason, set by the progress handler when it aborts
}

func (g *queryGuard) begin(timeout time.Duration, maxSteps int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = true
	g.steps = 0
	g.aborted = ""
	g.maxSteps = maxSteps
	if timeout > 0 {
		g.deadline = time.Now().Add(timeout)
	} else {
		g.deadline = time.Time{}
	}
}

func (g *queryGuard) end() (aborted string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	aborted = g.aborted
	g.aborted = ""
	return aborted
}

var driverSeq int64

// registerGuardedDriver registers a distinct sqlite3 driver name backed by
// a ConnectHook that installs guard's authorizer and progress handler on
// every new physical connection made through it. Each Store gets its own
// driver name so concurrent Stores (e.g. in tests) never share a guard.
func registerGuardedDriver(guard *queryGuard) string {
	n := atomic.AddInt64(&driverSeq, 1)
	name := fmt.Sprintf("sqlite3_veritas_%d", n)
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			conn.RegisterAuthorizer(func(op int, arg1, arg2, arg3 string) int {
				guard.mu.Lock()
				active := guard.active
				guard.mu.Unlock()
				if !active {
					return sqlite3.SQLITE_OK
				}
				switch op {
				case sqlite3.SQLITE_READ, sqlite3.SQLITE_FUNCTION:
					if strings.EqualFold(arg1, "sqlite_master") {
						return sqlite3.SQLITE_DENY
					}
					return sqlite3.SQLITE_OK
				case sqlite3.SQLITE_SELECT, sqlite3.SQLITE_RECURSIVE:
					return sqlite3.SQLITE_OK
				default:
					return sqlite3.SQLITE_DENY
				}
			})
			conn.RegisterProgressHandler(1000, func() int {
				guard.mu.Lock()
				defer guard.mu.Unlock()
				if !guard.active {
					return 0
				}
				guard.steps += 1000
				if guard.maxSteps > 0 && guard.steps > guard.maxSteps {
					guard.aborted = "step budget exceeded"
					return 1
				}
				if !guard.deadline.IsZero() && time.Now().After(guard.deadline) {
					guard.aborted = "deadline exceeded"
					return 1
				}
				return 0
			})
			return nil
		},
	})
	return name
}

// QueryResult is the shape returned to the client tool surface: column
// names in select order, and each row as a column-name-keyed map of
// JSON-safe values (time.Time and []byte are stringified).
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Execute runs a client-supplied, read-only SQL statement against the
// store. The authorizer denies any non-read operation (INSERT, UPDATE,
// DELETE, DDL, ATTACH, pragmas that mutate state), and the progress
// handler aborts the statement once it exceeds either the wall-clock
// deadline or the VM step budget, returning apierr.KindDeadline
// (spec.md §4.1).
func (s *Store) Execute(ctx context.Context, query string, args []any, deadline time.Duration, maxVMSteps int64) (*QueryResult, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	if !strings.HasPrefix(trimmed, "SELECT") && !strings.HasPrefix(trimmed, "WITH") {
		return nil, apierr.New(apierr.KindInvalidInput, "only SELECT/WITH statements are permitted")
	}

	s.guard.begin(deadline, maxVMSteps)
	defer s.guard.end()

	qctx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		qctx, cancel = context.WithTimeout(ctx, deadline+250*time.Millisecond)
		defer cancel()
	}

	rows, err := s.db.QueryContext(qctx, query, args...)
	if err != nil {
		if aborted := s.guard.end(); aborted != "" {
			return nil, apierr.Wrap(apierr.KindDeadline, aborted, err)
		}
		if strings.Contains(err.Error(), "not authorized") || strings.Contains(err.Error(), "authorization") {
			return nil, apierr.Wrap(apierr.KindInvalidInput, "query performs a disallowed operation", err)
		}
		return nil, apierr.Wrap(apierr.KindInvariant, "query execution failed", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			if aborted := s.guard.end(); aborted != "" {
				return nil, apierr.New(apierr.KindDeadline, aborted)
			}
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = jsonSafe(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		if aborted := s.guard.end(); aborted != "" {
			return nil, apierr.New(apierr.KindDeadline, aborted)
		}
		return nil, err
	}

	logging.StoreDebug("execute: %d rows returned", len(out))
	return &QueryResult{Columns: cols, Rows: out}, nil
}

func jsonSafe(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return t
	}
}
