package paperindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"veritas/internal/model"
	"veritas/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "veritas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNormalizeURLStripsTrackingParams(t *testing.T) {
	got := NormalizeURL("https://Example.com/Article/?utm_source=x&id=5")
	require.Equal(t, "example.com/Article?id=5", got)
}

func TestNormalizeDOILowercasesAndStripsPrefix(t *testing.T) {
	require.Equal(t, "10.1038/nature12373", NormalizeDOI("https://doi.org/10.1038/Nature12373"))
}

func TestMergeKeyPrefersDOIOverURL(t *testing.T) {
	kind, key := MergeKey(Entry{DOI: "10.1/abc", URL: "https://example.com/x"})
	require.Equal(t, "doi", kind)
	require.Equal(t, "10.1/abc", key)
}

func TestMergeKeyFallsBackToFuzzy(t *testing.T) {
	kind, key := MergeKey(Entry{Title: "A Study of Things", Author: "Smith"})
	require.Equal(t, "fuzzy", kind)
	require.Equal(t, "a study of things|smith", key)
}

func TestResolveDedupsAcrossSourcesByDOI(t *testing.T) {
	s := newTestStore(t)
	idx := New(s)

	p1, err := idx.Resolve(Entry{
		URL: "https://example.com/doi.org/10.1/xyz", DOI: "10.1/xyz", SourceAPI: "semantic_scholar",
		PaperMetadata: model.PaperMetadata{Year: 2021},
	})
	require.NoError(t, err)

	p2, err := idx.Resolve(Entry{
		URL: "https://example.com/doi.org/10.1/xyz", DOI: "10.1/xyz", SourceAPI: "openalex",
		PaperMetadata: model.PaperMetadata{Venue: "ICML"},
	})
	require.NoError(t, err)

	require.Equal(t, p1.ID, p2.ID, "same DOI must resolve to the same page")
	require.Equal(t, "semantic_scholar", p2.PaperMetadata.SourceAPI, "first-priority source_api must not be overwritten")
	require.Equal(t, "ICML", p2.PaperMetadata.Venue)
}

func TestResolveSyntheticURLForDOIOnlyRecord(t *testing.T) {
	s := newTestStore(t)
	idx := New(s)
	p, err := idx.Resolve(Entry{DOI: "10.5/only-doi", SourceAPI: "crossref"})
	require.NoError(t, err)
	require.Equal(t, "https://doi.org/10.5/only-doi", p.URL)
	require.Equal(t, model.PageAcademic, p.PageType)
}
