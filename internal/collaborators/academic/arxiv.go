package academic

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"veritas/internal/logging"
)

// ArxivClient wraps the arXiv Atom export API (export.arxiv.org/api). The
// only client in this package that isn't JSON: arXiv's API returns Atom
// XML, so it uses encoding/xml directly instead of httpGetJSON.
type ArxivClient struct {
	BaseURL string
	client  *http.Client
}

func NewArxivClient() *ArxivClient {
	return &ArxivClient{BaseURL: "https://export.arxiv.org/api/query", client: newDefaultClient()}
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	DOI string `xml:"http://arxiv.org/schemas/atom doi"`
}

func (e arxivEntry) toRecord() PaperRecord {
	author := ""
	if len(e.Authors) > 0 {
		author = e.Authors[0].Name
	}
	year := 0
	if len(e.Published) >= 4 {
		fmt.Sscanf(e.Published[:4], "%d", &year)
	}
	return PaperRecord{
		DOI:          e.DOI,
		Title:        strings.TrimSpace(e.Title),
		FirstAuthor:  author,
		Year:         year,
		SourceAPI:    "arxiv",
		PaperID:      arxivIDFromID(e.ID),
		AbstractText: strings.TrimSpace(e.Summary),
		HasAbstract:  strings.TrimSpace(e.Summary) != "",
		URL:          e.ID,
	}
}

func arxivIDFromID(id string) string {
	const prefix = "http://arxiv.org/abs/"
	return strings.TrimPrefix(id, prefix)
}

func (c *ArxivClient) getFeed(ctx context.Context, query string) (*arxivFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?%s", c.BaseURL, query), nil)
	if err != nil {
		return nil, fmt.Errorf("academic: arxiv build request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("academic: arxiv request failed: %w", err)
	}
	defer resp.Body.Close()
	logging.CollaboratorDebug("academic GET %s -> %d in %v", c.BaseURL, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("academic: arxiv HTTP %d: %s", resp.StatusCode, string(body))
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("academic: arxiv decode failed: %w", err)
	}
	return &feed, nil
}

// DOIForArxivID fetches the arXiv record and returns its registered DOI,
// if any (not every arXiv preprint has one).
func (c *ArxivClient) DOIForArxivID(ctx context.Context, arxivID string) (string, error) {
	feed, err := c.getFeed(ctx, "id_list="+escapeQuery(arxivID))
	if err != nil {
		return "", err
	}
	if len(feed.Entries) == 0 {
		return "", nil
	}
	return feed.Entries[0].DOI, nil
}

func (c *ArxivClient) GetByID(ctx context.Context, arxivID string) (*PaperRecord, error) {
	feed, err := c.getFeed(ctx, "id_list="+escapeQuery(arxivID))
	if err != nil {
		return nil, err
	}
	if len(feed.Entries) == 0 {
		return nil, nil
	}
	rec := feed.Entries[0].toRecord()
	return &rec, nil
}

func (c *ArxivClient) Search(ctx context.Context, query string, limit int) ([]PaperRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	feed, err := c.getFeed(ctx, fmt.Sprintf("search_query=all:%s&max_results=%d", escapeQuery(query), limit))
	if err != nil {
		return nil, err
	}
	recs := make([]PaperRecord, len(feed.Entries))
	for i, e := range feed.Entries {
		recs[i] = e.toRecord()
	}
	return recs, nil
}
