package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"veritas/internal/logging"
)

// encodeEmbedding packs a float32 vector into a little-endian byte blob,
// the same raw layout sqlite-vec's vec0 virtual table expects for a
// float[N] column, so the blob is reusable whether or not the extension is
// present (VectorSearch itself decodes it in Go and does not read
// store.vectorExt).
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors, returning 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		normA += af * af
		normB += bf * bf
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// VectorSearchTarget selects which embedded entity vector_search scans.
type VectorSearchTarget string

const (
	VectorTargetClaims    VectorSearchTarget = "claims"
	VectorTargetFragments VectorSearchTarget = "fragments"
)

// VectorSearchResult is one ranked hit from VectorSearch.
type VectorSearchResult struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// VectorSearch embeds nothing itself (callers pass a precomputed query
// vector) and returns the top_k closest entities of target by cosine
// similarity. A non-empty taskID scopes the claims target to that task;
// the fragments target always scans every embedded fragment and ignores
// taskID. The search is always a brute-force cosine scan in Go; the
// sqlite-vec extension is not used even when store.vectorExt is set.
func (s *Store) VectorSearch(target VectorSearchTarget, taskID string, query []float32, topK int, minSimilarity float64) ([]VectorSearchResult, int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "VectorSearch")
	defer timer.Stop()

	var rows *sql.Rows
	var err error
	switch target {
	case VectorTargetClaims:
		if taskID != "" {
			rows, err = s.db.Query(`SELECT id, claim_text, embedding FROM claims WHERE task_id = ? AND embedding IS NOT NULL`, taskID)
		} else {
			rows, err = s.db.Query(`SELECT id, claim_text, embedding FROM claims WHERE embedding IS NOT NULL`)
		}
	case VectorTargetFragments:
		rows, err = s.db.Query(`SELECT id, text_content, embedding FROM fragments WHERE embedding IS NOT NULL`)
	default:
		return nil, 0, fmt.Errorf("unknown vector_search target: %s", target)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	type scored struct {
		id   string
		text string
		sim  float64
	}
	var all []scored
	for rows.Next() {
		var id, text string
		var emb []byte
		if err := rows.Scan(&id, &text, &emb); err != nil {
			return nil, 0, err
		}
		v := decodeEmbedding(emb)
		sim := CosineSimilarity(query, v)
		all = append(all, scored{id, text, sim})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })

	var out []VectorSearchResult
	for _, r := range all {
		if r.sim < minSimilarity {
			continue
		}
		out = append(out, VectorSearchResult{ID: r.id, Text: r.text, Similarity: r.sim})
		if len(out) >= topK {
			break
		}
	}
	return out, len(all), nil
}
