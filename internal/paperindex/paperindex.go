// Package paperindex implements the Canonical Paper Index: the
// one-page-per-work invariant over a heterogeneous stream of SERP and
// academic-API entries.
package paperindex

import (
	"net/url"
	"regexp"
	"strings"

	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/store"
)

// sourcePriority ranks source_api values (lower rank is higher priority).
// Resolve and the store do not consult it when merging: merge-only
// semantics live in model.PaperMetadata.Merge, which fills null fields
// only, so a stored non-null field is kept whichever source wrote it.
var sourcePriority = map[string]int{
	"semantic_scholar": 0,
	"openalex":         1,
	"crossref":         2,
	"arxiv":            3,
	"extraction":       4,
}

func rank(sourceAPI string) int {
	if r, ok := sourcePriority[sourceAPI]; ok {
		return r
	}
	return len(sourcePriority)
}

// Entry is one heterogeneous observation fed into the index: a SERP hit
// or an academic-API record, prior to being resolved to a canonical Page.
type Entry struct {
	URL           string
	Title         string
	Author        string
	DOI           string
	SourceAPI     string
	PageType      model.PageType
	PaperMetadata model.PaperMetadata
	HasAbstract   bool
	AbstractText  string
}

var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "gclid": true, "fbclid": true,
	"ref": true, "source": true,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeURL strips scheme, lowercases host, removes tracking params,
// and trims trailing slashes, giving a stable second-priority merge key.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	host := strings.ToLower(u.Host)
	path := strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] {
			q.Del(k)
		}
	}
	query := q.Encode()

	norm := host + path
	if query != "" {
		norm += "?" + query
	}
	return norm
}

// NormalizeDOI lowercases and strips a doi.org/ prefix if present, giving
// the bare, comparable form used as the first-priority merge key.
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	d = strings.TrimPrefix(d, "https://doi.org/")
	d = strings.TrimPrefix(d, "http://doi.org/")
	d = strings.TrimPrefix(d, "doi.org/")
	d = strings.TrimPrefix(d, "doi:")
	return d
}

// FuzzyTitleAuthorKey builds the last-resort merge key from a normalized
// title and first-author surname, for entries with neither a DOI nor a
// directly-reusable URL.
func FuzzyTitleAuthorKey(title, firstAuthorSurname string) string {
	t := nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), " ")
	t = strings.Join(strings.Fields(t), " ")
	a := strings.ToLower(strings.TrimSpace(firstAuthorSurname))
	return t + "|" + a
}

// MergeKey selects the merge key for an entry per spec priority: DOI >
// normalized URL > fuzzy title/author.
func MergeKey(e Entry) (kind string, key string) {
	if doi := NormalizeDOI(e.DOI); doi != "" {
		return "doi", doi
	}
	if e.URL != "" {
		return "url", NormalizeURL(e.URL)
	}
	return "fuzzy", FuzzyTitleAuthorKey(e.Title, e.Author)
}

// Index resolves Entry values against the store's pages table, producing
// a single canonical Page per work. It holds no in-process dedup cache of
// its own beyond one call: the URL-uniqueness invariant is enforced by
// the store, so repeated Resolve calls across process restarts remain
// idempotent.
type Index struct {
	store *store.Store
}

func New(s *store.Store) *Index {
	return &Index{store: s}
}

// Resolve ingests one Entry and returns its canonical Page, upserting by
// the stored URL (the entry's literal URL, or https://doi.org/<doi> when
// it has none). It merges only into an existing page with that identical
// URL; entries that share a DOI or a normalized URL but carry different
// literal URLs are not merged, and MergeKey is not consulted. When the
// entry only has a fuzzy key, Resolve still upserts by URL (fuzzy matching
// against already-ingested pages happens at the caller level, since it
// requires scanning title/author across the corpus rather than a single
// lookup).
func (idx *Index) Resolve(e Entry) (*model.Page, error) {
	meta := e.PaperMetadata
	if meta.DOI == "" && e.DOI != "" {
		meta.DOI = NormalizeDOI(e.DOI)
	}
	if meta.SourceAPI == "" {
		meta.SourceAPI = e.SourceAPI
	}
	if e.HasAbstract {
		meta.HasAbstract = true
	}

	pageType := e.PageType
	if pageType == "" {
		if meta.DOI != "" {
			pageType = model.PageAcademic
		} else {
			pageType = model.PageArticle
		}
	}

	page := &model.Page{
		URL:           canonicalURLForStorage(e),
		Domain:        domainOf(e.URL),
		PageType:      pageType,
		Title:         e.Title,
		PaperMetadata: meta,
	}

	merged, err := idx.store.UpsertPage(page)
	if err != nil {
		return nil, err
	}
	logging.SearchDebug("paperindex resolved entry (source=%s doi=%s) -> page %s", e.SourceAPI, meta.DOI, merged.ID)
	return merged, nil
}

// canonicalURLForStorage prefers the entry's literal URL (pages.url is a
// real fetchable address); a DOI-only academic record without a URL is
// given a synthetic doi.org URL so it still satisfies the URL-uniqueness
// invariant and is directly fetchable later.
func canonicalURLForStorage(e Entry) string {
	if e.URL != "" {
		return e.URL
	}
	if doi := NormalizeDOI(e.DOI); doi != "" {
		return "https://doi.org/" + doi
	}
	return ""
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}
