package academic

import (
	"context"
	"fmt"
	"net/http"
)

// CrossrefClient wraps the Crossref Works API (api.crossref.org).
type CrossrefClient struct {
	BaseURL string
	MailTo  string
	client  *http.Client
}

func NewCrossrefClient(mailTo string) *CrossrefClient {
	return &CrossrefClient{
		BaseURL: "https://api.crossref.org",
		MailTo:  mailTo,
		client:  newDefaultClient(),
	}
}

func (c *CrossrefClient) mailtoParam() string {
	if c.MailTo == "" {
		return ""
	}
	return "&mailto=" + escapeQuery(c.MailTo)
}

type crossrefWork struct {
	DOI     string `json:"DOI"`
	Title   []string `json:"title"`
	Issued  struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	ContainerTitle []string `json:"container-title"`
	IsReferencedByCount int `json:"is-referenced-by-count"`
	Author []struct {
		Family string `json:"family"`
	} `json:"author"`
	Abstract string `json:"abstract"`
}

func (w crossrefWork) toRecord() PaperRecord {
	title := ""
	if len(w.Title) > 0 {
		title = w.Title[0]
	}
	venue := ""
	if len(w.ContainerTitle) > 0 {
		venue = w.ContainerTitle[0]
	}
	author := ""
	if len(w.Author) > 0 {
		author = w.Author[0].Family
	}
	year := 0
	if len(w.Issued.DateParts) > 0 && len(w.Issued.DateParts[0]) > 0 {
		year = w.Issued.DateParts[0][0]
	}
	return PaperRecord{
		DOI:           w.DOI,
		Title:         title,
		FirstAuthor:   author,
		Year:          year,
		Venue:         venue,
		CitationCount: w.IsReferencedByCount,
		SourceAPI:     "crossref",
		AbstractText:  w.Abstract,
		HasAbstract:   w.Abstract != "",
	}
}

func (c *CrossrefClient) GetByDOI(ctx context.Context, doi string) (*PaperRecord, error) {
	url := fmt.Sprintf("%s/works/%s?%s", c.BaseURL, doi, c.mailtoParam())
	var out struct {
		Message crossrefWork `json:"message"`
	}
	status, err := httpGetJSON(ctx, c.client, url, nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	rec := out.Message.toRecord()
	return &rec, nil
}
