package idresolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractDOIFromURL(t *testing.T) {
	ids := Extract("https://doi.org/10.1038/nature12373")
	require.Equal(t, "10.1038/nature12373", ids.DOI)
}

func TestExtractDOIFromText(t *testing.T) {
	ids := Extract("See paper at 10.1145/3292500.3330701 for details.")
	require.Equal(t, "10.1145/3292500.3330701", ids.DOI)
}

func TestExtractPMIDFromURL(t *testing.T) {
	ids := Extract("https://pubmed.ncbi.nlm.nih.gov/12345678/")
	require.Equal(t, "12345678", ids.PMID)
}

func TestExtractArxivFromURL(t *testing.T) {
	ids := Extract("https://arxiv.org/abs/2301.12345")
	require.Equal(t, "2301.12345", ids.ArxivID)
}

func TestExtractEmptyForPlainURL(t *testing.T) {
	ids := Extract("https://example.com/blog/post")
	require.True(t, ids.Empty())
}

type fakeGateway struct {
	doiForPMID  map[string]string
	doiForArxiv map[string]string
}

func (f fakeGateway) LookupDOIByPMID(ctx context.Context, pmid string) (string, error) {
	return f.doiForPMID[pmid], nil
}
func (f fakeGateway) LookupDOIByArxivID(ctx context.Context, id string) (string, error) {
	return f.doiForArxiv[id], nil
}

func TestResolveToDOIPrefersExistingDOI(t *testing.T) {
	gw := fakeGateway{}
	doi, err := ResolveToDOI(context.Background(), gw, Identifiers{DOI: "10.1/x"})
	require.NoError(t, err)
	require.Equal(t, "10.1/x", doi)
}

func TestResolveToDOITriesPMIDThenArxiv(t *testing.T) {
	gw := fakeGateway{doiForArxiv: map[string]string{"2301.12345": "10.9999/resolved"}}
	doi, err := ResolveToDOI(context.Background(), gw, Identifiers{PMID: "999", ArxivID: "2301.12345"})
	require.NoError(t, err)
	require.Equal(t, "10.9999/resolved", doi)
}

func TestResolveToDOINullIsNotAnError(t *testing.T) {
	gw := fakeGateway{}
	doi, err := ResolveToDOI(context.Background(), gw, Identifiers{PMID: "1"})
	require.NoError(t, err)
	require.Empty(t, doi)
}

type erroringGateway struct{}

func (erroringGateway) LookupDOIByPMID(ctx context.Context, pmid string) (string, error) {
	return "", errors.New("network error")
}
func (erroringGateway) LookupDOIByArxivID(ctx context.Context, id string) (string, error) {
	return "", nil
}

func TestResolveToDOIPropagatesGatewayError(t *testing.T) {
	_, err := ResolveToDOI(context.Background(), erroringGateway{}, Identifiers{PMID: "1"})
	require.Error(t, err)
}
