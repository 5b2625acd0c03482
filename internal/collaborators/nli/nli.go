// Package nli wraps the entailment-classification collaborator: given a
// (premise fragment text, hypothesis claim text) pair, produce a label in
// {supports, refutes, neutral} with a raw confidence score. Raw scores are
// calibrated downstream by graphengine.Aggregator, never here (spec.md
// §4.6 designates one calibration call site).
package nli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"

	"veritas/internal/logging"
)

// Classifier is the collaborator interface FCE depends on.
type Classifier interface {
	Classify(ctx context.Context, premise, hypothesis string) (Result, error)
	ClassifyBatch(ctx context.Context, pairs []Pair) ([]Result, error)
}

// Pair is one (premise, hypothesis) candidate surviving the embedding
// similarity prefilter.
type Pair struct {
	Premise    string
	Hypothesis string
}

// Result is the raw (uncalibrated) classification of one pair.
type Result struct {
	Label      string  `json:"label"`
	RawScore   float64 `json:"raw_score"`
}

const systemPrompt = `You are a natural language inference classifier. Given a premise (a fragment of source text) and a hypothesis (a claim), decide whether the premise supports, refutes, or is neutral toward the hypothesis. Output strict JSON matching the provided schema only, no commentary.`

var singleSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"label":     {Type: genai.TypeString, Enum: []string{"supports", "refutes", "neutral"}},
		"raw_score": {Type: genai.TypeNumber},
	},
	Required: []string{"label", "raw_score"},
}

var batchSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"results": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"index":     {Type: genai.TypeInteger},
					"label":     {Type: genai.TypeString, Enum: []string{"supports", "refutes", "neutral"}},
					"raw_score": {Type: genai.TypeNumber},
				},
				Required: []string{"index", "label", "raw_score"},
			},
		},
	},
	Required: []string{"results"},
}

// rawGenerator is the minimal surface nli needs from the GenAI client;
// kept narrow so tests can substitute a fake without a live API key.
type rawGenerator interface {
	Generate(ctx context.Context, userPrompt string, schema *genai.Schema) (string, error)
}

// GenAIClassifier is the production Classifier, backed by Gemini
// structured output, adapted from the teacher's
// GeminiClient.CompleteWithSchema.
type GenAIClassifier struct {
	gen rawGenerator
}

func NewGenAIClassifier(ctx context.Context, apiKey, model string) (*GenAIClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("nli: API key is required")
	}
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("nli: client creation failed: %w", err)
	}
	return &GenAIClassifier{gen: &geminiGenerator{client: c, model: model}}, nil
}

func (g *GenAIClassifier) Classify(ctx context.Context, premise, hypothesis string) (Result, error) {
	userPrompt := fmt.Sprintf("Premise:\n%s\n\nHypothesis:\n%s", premise, hypothesis)

	start := time.Now()
	raw, err := g.gen.Generate(ctx, userPrompt, singleSchema)
	logging.CollaboratorDebug("nli classify call, latency=%v", time.Since(start))
	if err != nil {
		return Result{}, fmt.Errorf("nli: generate failed: %w", err)
	}
	var out Result
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Result{}, fmt.Errorf("nli: response parse failed: %w", err)
	}
	return out, nil
}

// geminiGenerator is the thin adapter over genai.Client implementing
// rawGenerator.
type geminiGenerator struct {
	client *genai.Client
	model  string
}

func (g *geminiGenerator) Generate(ctx context.Context, userPrompt string, schema *genai.Schema) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
	}
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

// ClassifyBatch classifies many pairs in one call, reducing round trips
// for the per-(claim,page) candidate set FCE assembles after the
// similarity prefilter. One retry on parse failure, same policy as
// llmextract; a batch that still fails to parse is dropped entirely (the
// caller falls back to per-pair Classify if it needs partial results).
func (g *GenAIClassifier) ClassifyBatch(ctx context.Context, pairs []Pair) ([]Result, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	userPrompt := buildBatchPrompt(pairs)
	raw, err := g.generateBatchJSON(ctx, userPrompt)
	if err == nil {
		if results, perr := parseBatch(raw, len(pairs)); perr == nil {
			return results, nil
		} else {
			err = perr
		}
	}

	logging.CollaboratorDebug("nli batch call failed, retrying once: %v", err)
	retryPrompt := fmt.Sprintf("%s\n\nThe previous response failed to parse: %v. Return only valid JSON matching the schema.", userPrompt, err)
	raw, rerr := g.generateBatchJSON(ctx, retryPrompt)
	if rerr != nil {
		return nil, fmt.Errorf("nli: batch retry call failed: %w", rerr)
	}
	results, perr := parseBatch(raw, len(pairs))
	if perr != nil {
		return nil, fmt.Errorf("nli: batch dropped after retry: %w", perr)
	}
	return results, nil
}

func (g *GenAIClassifier) generateBatchJSON(ctx context.Context, userPrompt string) (string, error) {
	return g.gen.Generate(ctx, userPrompt, batchSchema)
}

func buildBatchPrompt(pairs []Pair) string {
	b, _ := json.Marshal(pairs)
	return fmt.Sprintf("Classify each indexed pair:\n%s", string(b))
}

func parseBatch(raw string, want int) ([]Result, error) {
	var out struct {
		Results []struct {
			Index    int     `json:"index"`
			Label    string  `json:"label"`
			RawScore float64 `json:"raw_score"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	results := make([]Result, want)
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= want {
			continue
		}
		results[r.Index] = Result{Label: r.Label, RawScore: r.RawScore}
	}
	return results, nil
}
