package nli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	responses []string
	calls     int
}

func (f *fakeGenerator) Generate(ctx context.Context, userPrompt string, schema *genai.Schema) (string, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func TestClassifyParsesValidResponse(t *testing.T) {
	fg := &fakeGenerator{responses: []string{`{"label":"supports","raw_score":0.82}`}}
	c := &GenAIClassifier{gen: fg}

	res, err := c.Classify(context.Background(), "premise text", "hypothesis text")
	require.NoError(t, err)
	require.Equal(t, "supports", res.Label)
	require.Equal(t, 0.82, res.RawScore)
}

func TestClassifyBatchOrdersByIndex(t *testing.T) {
	fg := &fakeGenerator{responses: []string{
		`{"results":[{"index":1,"label":"refutes","raw_score":0.3},{"index":0,"label":"supports","raw_score":0.9}]}`,
	}}
	c := &GenAIClassifier{gen: fg}

	results, err := c.ClassifyBatch(context.Background(), []Pair{
		{Premise: "p0", Hypothesis: "h0"},
		{Premise: "p1", Hypothesis: "h1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "supports", results[0].Label)
	require.Equal(t, "refutes", results[1].Label)
}

func TestClassifyBatchEmptyIsNoop(t *testing.T) {
	fg := &fakeGenerator{}
	c := &GenAIClassifier{gen: fg}

	results, err := c.ClassifyBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, results)
	require.Equal(t, 0, fg.calls)
}

func TestClassifyBatchRetriesOnceThenSucceeds(t *testing.T) {
	fg := &fakeGenerator{responses: []string{
		`garbage`,
		`{"results":[{"index":0,"label":"neutral","raw_score":0.5}]}`,
	}}
	c := &GenAIClassifier{gen: fg}

	results, err := c.ClassifyBatch(context.Background(), []Pair{{Premise: "p", Hypothesis: "h"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "neutral", results[0].Label)
	require.Equal(t, 2, fg.calls)
}

func TestClassifyBatchDropsAfterSecondFailure(t *testing.T) {
	fg := &fakeGenerator{responses: []string{"bad", "still bad"}}
	c := &GenAIClassifier{gen: fg}

	_, err := c.ClassifyBatch(context.Background(), []Pair{{Premise: "p", Hypothesis: "h"}})
	require.Error(t, err)
	require.Equal(t, 2, fg.calls)
}
