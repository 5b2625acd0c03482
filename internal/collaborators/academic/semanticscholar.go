package academic

import (
	"context"
	"fmt"
	"net/http"
)

// SemanticScholarClient wraps the Semantic Scholar Graph API
// (api.semanticscholar.org/graph/v1).
type SemanticScholarClient struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

func NewSemanticScholarClient(apiKey string) *SemanticScholarClient {
	return &SemanticScholarClient{
		BaseURL: "https://api.semanticscholar.org/graph/v1",
		APIKey:  apiKey,
		client:  newDefaultClient(),
	}
}

func (c *SemanticScholarClient) headers() map[string]string {
	if c.APIKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": c.APIKey}
}

type s2Paper struct {
	PaperID      string `json:"paperId"`
	ExternalIDs  map[string]string `json:"externalIds"`
	Title        string `json:"title"`
	Year         int    `json:"year"`
	Venue        string `json:"venue"`
	CitationCount int   `json:"citationCount"`
	Abstract     string `json:"abstract"`
	Authors      []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

func (p s2Paper) toRecord() PaperRecord {
	author := ""
	if len(p.Authors) > 0 {
		author = p.Authors[0].Name
	}
	return PaperRecord{
		DOI:           p.ExternalIDs["DOI"],
		Title:         p.Title,
		FirstAuthor:   author,
		Year:          p.Year,
		Venue:         p.Venue,
		CitationCount: p.CitationCount,
		SourceAPI:     "semantic_scholar",
		PaperID:       p.PaperID,
		AbstractText:  p.Abstract,
		HasAbstract:   p.Abstract != "",
	}
}

const s2Fields = "paperId,externalIds,title,year,venue,citationCount,abstract,authors"

// DOIForPMID resolves a PubMed ID to a DOI via the PMID: external-id prefix.
func (c *SemanticScholarClient) DOIForPMID(ctx context.Context, pmid string) (string, error) {
	url := fmt.Sprintf("%s/paper/PMID:%s?fields=externalIds", c.BaseURL, pmid)
	var out s2Paper
	status, err := httpGetJSON(ctx, c.client, url, c.headers(), &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	return out.ExternalIDs["DOI"], nil
}

func (c *SemanticScholarClient) GetByDOI(ctx context.Context, doi string) (*PaperRecord, error) {
	url := fmt.Sprintf("%s/paper/DOI:%s?fields=%s", c.BaseURL, doi, s2Fields)
	var out s2Paper
	status, err := httpGetJSON(ctx, c.client, url, c.headers(), &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	rec := out.toRecord()
	return &rec, nil
}

// GetReferences returns the papers a DOI's entry cites, one hop, used by
// the citation_graph job to expand the Page->Page cites set.
func (c *SemanticScholarClient) GetReferences(ctx context.Context, doi string) ([]PaperRecord, error) {
	fields := "references." + s2Fields
	url := fmt.Sprintf("%s/paper/DOI:%s?fields=%s", c.BaseURL, doi, fields)
	var out struct {
		References []s2Paper `json:"references"`
	}
	status, err := httpGetJSON(ctx, c.client, url, c.headers(), &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	recs := make([]PaperRecord, 0, len(out.References))
	for _, p := range out.References {
		if p.ExternalIDs["DOI"] == "" {
			continue
		}
		recs = append(recs, p.toRecord())
	}
	return recs, nil
}

func (c *SemanticScholarClient) Search(ctx context.Context, query string, limit int) ([]PaperRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	url := fmt.Sprintf("%s/paper/search?query=%s&limit=%d&fields=%s", c.BaseURL, escapeQuery(query), limit, s2Fields)
	var out struct {
		Data []s2Paper `json:"data"`
	}
	_, err := httpGetJSON(ctx, c.client, url, c.headers(), &out)
	if err != nil {
		return nil, err
	}
	recs := make([]PaperRecord, len(out.Data))
	for i, p := range out.Data {
		recs[i] = p.toRecord()
	}
	return recs, nil
}
