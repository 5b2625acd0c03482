package llmextract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSchemaClient struct {
	responses []string
	calls     int
}

func (f *fakeSchemaClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func TestExtractFragmentsParsesValidResponse(t *testing.T) {
	fc := &fakeSchemaClient{responses: []string{
		`{"fragments":[{"fragment_type":"paragraph","text_content":"hello","heading_hierarchy":["Intro"]}]}`,
	}}
	ex := &GenAIExtractor{client: fc}

	fragments, err := ex.ExtractFragments(context.Background(), "Title", "body text")
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	require.Equal(t, "hello", fragments[0].TextContent)
	require.Equal(t, 1, fc.calls)
}

func TestExtractFragmentsRetriesOnceThenSucceeds(t *testing.T) {
	fc := &fakeSchemaClient{responses: []string{
		`not json`,
		`{"fragments":[{"fragment_type":"heading","text_content":"Section 1"}]}`,
	}}
	ex := &GenAIExtractor{client: fc}

	fragments, err := ex.ExtractFragments(context.Background(), "Title", "body text")
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	require.Equal(t, 2, fc.calls)
}

func TestExtractFragmentsDropsBatchAfterSecondFailure(t *testing.T) {
	fc := &fakeSchemaClient{responses: []string{"garbage", "still garbage"}}
	ex := &GenAIExtractor{client: fc}

	_, err := ex.ExtractFragments(context.Background(), "Title", "body")
	require.Error(t, err)
	require.Equal(t, 2, fc.calls)
}

func TestExtractClaimsParsesValidResponse(t *testing.T) {
	fc := &fakeSchemaClient{responses: []string{
		`{"claims":[{"fragment_index":0,"claim_text":"X causes Y","claim_type":"causal","granularity":"atomic","confidence":0.8}]}`,
	}}
	ex := &GenAIExtractor{client: fc}

	claims, err := ex.ExtractClaims(context.Background(), "X causes Y", []FragmentDraft{{TextContent: "evidence"}})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, "X causes Y", claims[0].ClaimText)
}
