package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"veritas/internal/logging"
)

// SerpCacheKey derives the cache_key from the normalized inputs that
// together identify an equivalent search: the query text, the sorted set
// of engines, the time range, and the page number.
func SerpCacheKey(normalizedQuery string, engines []string, timeRange string, page int) string {
	sorted := append([]string(nil), engines...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(normalizedQuery))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(timeRange))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(page)))
	return hex.EncodeToString(h.Sum(nil))
}

// SerpCacheEntry is a cached search-engine-results-page response.
type SerpCacheEntry struct {
	CacheKey        string
	NormalizedQuery string
	Engines         []string
	TimeRange       string
	Page            int
	ResultsJSON     string
	CreatedAt       time.Time
}

// GetSerpCache looks up a cached SERP response. Callers are responsible
// for applying their own TTL (config.SerpCacheTTL) against CreatedAt;
// the store itself keeps every entry until evicted explicitly.
func (s *Store) GetSerpCache(cacheKey string) (*SerpCacheEntry, error) {
	var e SerpCacheEntry
	var enginesCSV string
	e.CacheKey = cacheKey
	err := s.db.QueryRow(`SELECT normalized_query, engines_set, time_range, page, results_json, created_at
		FROM serp_cache WHERE cache_key = ?`, cacheKey).
		Scan(&e.NormalizedQuery, &enginesCSV, &e.TimeRange, &e.Page, &e.ResultsJSON, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if enginesCSV != "" {
		e.Engines = strings.Split(enginesCSV, ",")
	}
	return &e, nil
}

// PutSerpCache writes (or overwrites) a cached SERP response.
func (s *Store) PutSerpCache(e *SerpCacheEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	sorted := append([]string(nil), e.Engines...)
	sort.Strings(sorted)
	_, err := s.db.Exec(`INSERT INTO serp_cache (cache_key, normalized_query, engines_set, time_range, page, results_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET results_json = excluded.results_json, created_at = excluded.created_at`,
		e.CacheKey, e.NormalizedQuery, strings.Join(sorted, ","), e.TimeRange, e.Page, e.ResultsJSON, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("put serp_cache: %w", err)
	}
	logging.SearchDebug("serp_cache write key=%s query=%q page=%d", e.CacheKey, e.NormalizedQuery, e.Page)
	return nil
}

// PurgeSerpCacheOlderThan deletes cache rows older than the given age,
// for optional periodic cache maintenance.
func (s *Store) PurgeSerpCacheOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	res, err := s.db.Exec(`DELETE FROM serp_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
