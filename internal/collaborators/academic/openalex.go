package academic

import (
	"fmt"
	"net/http"
	"strings"

	"context"
)

// OpenAlexClient wraps the OpenAlex Works API (api.openalex.org).
type OpenAlexClient struct {
	BaseURL string
	MailTo  string // OpenAlex's "polite pool" contact param
	client  *http.Client
}

func NewOpenAlexClient(mailTo string) *OpenAlexClient {
	return &OpenAlexClient{
		BaseURL: "https://api.openalex.org",
		MailTo:  mailTo,
		client:  newDefaultClient(),
	}
}

func (c *OpenAlexClient) mailtoParam() string {
	if c.MailTo == "" {
		return ""
	}
	return "&mailto=" + escapeQuery(c.MailTo)
}

type openAlexWork struct {
	ID            string `json:"id"`
	DOI           string `json:"doi"`
	Title         string `json:"display_name"`
	PublicationYear int  `json:"publication_year"`
	CitedByCount  int    `json:"cited_by_count"`
	Authorships   []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	PrimaryLocation struct {
		Source struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
	} `json:"primary_location"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

func (w openAlexWork) toRecord() PaperRecord {
	author := ""
	if len(w.Authorships) > 0 {
		author = w.Authorships[0].Author.DisplayName
	}
	abstract := reconstructAbstract(w.AbstractInvertedIndex)
	return PaperRecord{
		DOI:           strings.TrimPrefix(w.DOI, "https://doi.org/"),
		Title:         w.Title,
		FirstAuthor:   author,
		Year:          w.PublicationYear,
		Venue:         w.PrimaryLocation.Source.DisplayName,
		CitationCount: w.CitedByCount,
		SourceAPI:     "openalex",
		PaperID:       w.ID,
		AbstractText:  abstract,
		HasAbstract:   abstract != "",
	}
}

// reconstructAbstract inverts OpenAlex's word->positions index back into
// plain text (OpenAlex never returns the abstract as a flat string).
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	maxPos := 0
	for _, positions := range index {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}
	words := make([]string, maxPos+1)
	for word, positions := range index {
		for _, p := range positions {
			words[p] = word
		}
	}
	return strings.Join(words, " ")
}

func (c *OpenAlexClient) GetByDOI(ctx context.Context, doi string) (*PaperRecord, error) {
	url := fmt.Sprintf("%s/works/doi:%s?%s", c.BaseURL, doi, strings.TrimPrefix(c.mailtoParam(), "&"))
	var out openAlexWork
	status, err := httpGetJSON(ctx, c.client, url, nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	rec := out.toRecord()
	return &rec, nil
}

func (c *OpenAlexClient) Search(ctx context.Context, query string, limit int) ([]PaperRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	url := fmt.Sprintf("%s/works?search=%s&per-page=%d%s", c.BaseURL, escapeQuery(query), limit, c.mailtoParam())
	var out struct {
		Results []openAlexWork `json:"results"`
	}
	_, err := httpGetJSON(ctx, c.client, url, nil, &out)
	if err != nil {
		return nil, err
	}
	recs := make([]PaperRecord, len(out.Results))
	for i, w := range out.Results {
		recs[i] = w.toRecord()
	}
	return recs, nil
}
