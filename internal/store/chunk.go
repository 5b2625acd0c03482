package store

import "strings"

// inChunks splits ids into slices no longer than size, so callers can build
// IN-list queries that stay under SQLite's default 999 bound-parameter
// limit even for e.g. 10000 page ids (spec.md §4.1, §8 boundary behavior).
func inChunks(ids []string, size int) [][]string {
	if size <= 0 {
		size = 900
	}
	var chunks [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[i:end])
	}
	return chunks
}

// buildInClause renders a "?,?,?" placeholder string and the matching args
// slice for a chunk of ids.
func buildInClause(chunk []string) (string, []any) {
	placeholders := strings.Repeat("?,", len(chunk))
	placeholders = strings.TrimSuffix(placeholders, ",")
	args := make([]any, len(chunk))
	for i, id := range chunk {
		args[i] = id
	}
	return placeholders, args
}
