// Package idresolver extracts DOI/PMID/arXiv identifiers from URLs and
// free text and resolves non-DOI identifiers to DOI via the academic
// metadata collaborator. Stateless: every function is a pure matcher over
// its input, grounded on net/url + regexp rather than any pack dependency
// (no URL/citation-identifier library appears anywhere in the example
// pack, so this is a justified stdlib package, see DESIGN.md).
package idresolver

import (
	"context"
	"net/url"
	"regexp"
	"strings"
)

// Identifiers is the output of Extract: any subset of fields may be empty.
type Identifiers struct {
	DOI    string `json:"doi,omitempty"`
	PMID   string `json:"pmid,omitempty"`
	ArxivID string `json:"arxiv_id,omitempty"`
}

func (i Identifiers) Empty() bool {
	return i.DOI == "" && i.PMID == "" && i.ArxivID == ""
}

var (
	doiURLPattern   = regexp.MustCompile(`(?i)doi\.org/(10\.\d{4,}(?:\.\d+)*/\S+)`)
	doiTextPattern  = regexp.MustCompile(`\b10\.\d{4,}(?:\.\d+)*/[^\s"'<>]+`)
	pmidURLPattern  = regexp.MustCompile(`(?i)pubmed\.ncbi\.nlm\.nih\.gov/(\d+)`)
	pmidTextPattern = regexp.MustCompile(`(?i)\bPMID:?\s*(\d{4,9})\b`)
	arxivURLPattern = regexp.MustCompile(`(?i)arxiv\.org/abs/([a-z\-]*\d{4}\.\d{4,5}(?:v\d+)?|[a-z\-]+/\d{7})`)
	arxivTextPattern = regexp.MustCompile(`(?i)\barXiv:\s*([a-z\-]*\d{4}\.\d{4,5}(?:v\d+)?)`)
)

// Extract pulls any DOI/PMID/arXiv identifier present in a URL or a blob
// of free text. It trims surrounding punctuation so trailing periods or
// angle brackets picked up by a naive regex don't leak into the id.
func Extract(input string) Identifiers {
	var ids Identifiers

	if u, err := url.Parse(input); err == nil && u.Scheme != "" {
		if m := doiURLPattern.FindStringSubmatch(input); m != nil {
			ids.DOI = cleanID(m[1])
		}
		if m := pmidURLPattern.FindStringSubmatch(input); m != nil {
			ids.PMID = m[1]
		}
		if m := arxivURLPattern.FindStringSubmatch(input); m != nil {
			ids.ArxivID = strings.ToLower(m[1])
		}
	}

	if ids.DOI == "" {
		if m := doiTextPattern.FindString(input); m != "" {
			ids.DOI = cleanID(strings.ToLower(m))
		}
	}
	if ids.PMID == "" {
		if m := pmidTextPattern.FindStringSubmatch(input); m != nil {
			ids.PMID = m[1]
		}
	}
	if ids.ArxivID == "" {
		if m := arxivTextPattern.FindStringSubmatch(input); m != nil {
			ids.ArxivID = strings.ToLower(m[1])
		}
	}

	return ids
}

func cleanID(s string) string {
	return strings.TrimRight(s, ".,;:)>\"'")
}

// AcademicGateway is the minimal collaborator interface resolve_to_doi
// needs: look up a non-DOI identifier and return its DOI, if any.
type AcademicGateway interface {
	LookupDOIByPMID(ctx context.Context, pmid string) (string, error)
	LookupDOIByArxivID(ctx context.Context, arxivID string) (string, error)
}

// ResolveToDOI tries PMID first, then arXiv id, returning the first
// successful DOI lookup. A null (empty) return with no error is a
// legitimate outcome, not a failure: not every paper has a DOI.
func ResolveToDOI(ctx context.Context, gw AcademicGateway, ids Identifiers) (string, error) {
	if ids.DOI != "" {
		return ids.DOI, nil
	}
	if ids.PMID != "" {
		doi, err := gw.LookupDOIByPMID(ctx, ids.PMID)
		if err != nil {
			return "", err
		}
		if doi != "" {
			return doi, nil
		}
	}
	if ids.ArxivID != "" {
		doi, err := gw.LookupDOIByArxivID(ctx, ids.ArxivID)
		if err != nil {
			return "", err
		}
		if doi != "" {
			return doi, nil
		}
	}
	return "", nil
}
