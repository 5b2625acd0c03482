// Package llmextract wraps the claim-extraction collaborator: given page
// text and the task's central hypothesis, produce the fragment sequence
// and the claims asserted within it (spec.md §4.5). The LLM is asked for
// strict JSON matching fragmentResponseSchema/claimResponseSchema; one
// retry is attempted with parser errors appended to the prompt before the
// batch is dropped.
package llmextract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"

	"veritas/internal/logging"
	"veritas/internal/model"
)

// Extractor is the collaborator interface FCE depends on.
type Extractor interface {
	ExtractFragments(ctx context.Context, pageTitle, pageText string) ([]FragmentDraft, error)
	ExtractClaims(ctx context.Context, centralHypothesis string, fragments []FragmentDraft) ([]ClaimDraft, error)
}

// FragmentDraft is one extracted unit of content, in document order.
type FragmentDraft struct {
	FragmentType     model.FragmentType `json:"fragment_type"`
	TextContent      string             `json:"text_content"`
	HeadingHierarchy []string           `json:"heading_hierarchy"`
}

// ClaimDraft is one extracted assertion, tied back to the fragment it was
// drawn from by index into the fragments slice passed to ExtractClaims.
type ClaimDraft struct {
	FragmentIndex int               `json:"fragment_index"`
	ClaimText     string            `json:"claim_text"`
	ClaimType     model.ClaimType   `json:"claim_type"`
	Granularity   model.ClaimGranularity `json:"granularity"`
	Confidence    float64           `json:"confidence"`
}

const (
	fragmentSystemPrompt = `You segment page content into an ordered sequence of fragments, preserving reading order and heading hierarchy. Classify each fragment's type. Output strict JSON matching the provided schema only, no commentary.`

	claimSystemPrompt = `You extract factual, causal, comparative, predictive, or normative claims from page fragments, in the context of a research hypothesis. Only extract claims that bear on the hypothesis. Output strict JSON matching the provided schema only, no commentary.`
)

var fragmentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"fragments": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fragment_type": map[string]any{
						"type": "string",
						"enum": []string{"paragraph", "heading", "list", "table", "quote", "figure", "code"},
					},
					"text_content":      map[string]any{"type": "string"},
					"heading_hierarchy": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"fragment_type", "text_content"},
			},
		},
	},
	"required": []string{"fragments"},
}

var claimSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"claims": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fragment_index": map[string]any{"type": "integer"},
					"claim_text":     map[string]any{"type": "string"},
					"claim_type": map[string]any{
						"type": "string",
						"enum": []string{"factual", "causal", "comparative", "predictive", "normative"},
					},
					"granularity": map[string]any{
						"type": "string",
						"enum": []string{"atomic", "composite"},
					},
					"confidence": map[string]any{"type": "number"},
				},
				"required": []string{"fragment_index", "claim_text", "claim_type", "granularity", "confidence"},
			},
		},
	},
	"required": []string{"claims"},
}

// schemaClient is the minimal surface llmextract needs from the GenAI
// client; kept narrow so tests can substitute a fake without building a
// full *genai.Client.
type schemaClient interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (string, error)
}

// GenAIExtractor is the production Extractor, backed by Gemini structured
// output (genai.GenerateContentConfig.ResponseSchema), adapted from the
// teacher's GeminiClient.CompleteWithSchema.
type GenAIExtractor struct {
	client schemaClient
}

func NewGenAIExtractor(ctx context.Context, apiKey, model string) (*GenAIExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llmextract: API key is required")
	}
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	c, err := newGeminiSchemaClient(ctx, apiKey, model)
	if err != nil {
		return nil, err
	}
	return &GenAIExtractor{client: c}, nil
}

func (g *GenAIExtractor) ExtractFragments(ctx context.Context, pageTitle, pageText string) ([]FragmentDraft, error) {
	userPrompt := fmt.Sprintf("Page title: %s\n\nPage content:\n%s", pageTitle, pageText)

	raw, err := g.callWithRetry(ctx, fragmentSystemPrompt, userPrompt, fragmentSchema, func(s string) error {
		var out struct {
			Fragments []FragmentDraft `json:"fragments"`
		}
		return json.Unmarshal([]byte(s), &out)
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Fragments []FragmentDraft `json:"fragments"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("llmextract: fragment batch dropped after retry: %w", err)
	}
	return out.Fragments, nil
}

func (g *GenAIExtractor) ExtractClaims(ctx context.Context, centralHypothesis string, fragments []FragmentDraft) ([]ClaimDraft, error) {
	var sb []byte
	sb, _ = json.Marshal(fragments)
	userPrompt := fmt.Sprintf("Central hypothesis: %s\n\nFragments (indexed from 0):\n%s", centralHypothesis, string(sb))

	raw, err := g.callWithRetry(ctx, claimSystemPrompt, userPrompt, claimSchema, func(s string) error {
		var out struct {
			Claims []ClaimDraft `json:"claims"`
		}
		return json.Unmarshal([]byte(s), &out)
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Claims []ClaimDraft `json:"claims"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("llmextract: claim batch dropped after retry: %w", err)
	}
	return out.Claims, nil
}

// callWithRetry issues the schema-constrained call, validates the result
// with validate, and retries once with the parser error appended to the
// prompt on failure (spec.md §4.5: "one retry ... second failure drops
// the batch").
func (g *GenAIExtractor) callWithRetry(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, validate func(string) error) (string, error) {
	start := time.Now()
	raw, err := g.client.GenerateJSON(ctx, systemPrompt, userPrompt, schema)
	if err == nil {
		if verr := validate(raw); verr == nil {
			logging.CollaboratorDebug("llmextract call ok, latency=%v", time.Since(start))
			return raw, nil
		} else {
			err = verr
		}
	}

	logging.CollaboratorDebug("llmextract call failed validation, retrying once: %v", err)
	retryPrompt := fmt.Sprintf("%s\n\nThe previous response failed to parse: %v. Return only valid JSON matching the schema.", userPrompt, err)
	raw, rerr := g.client.GenerateJSON(ctx, systemPrompt, retryPrompt, schema)
	if rerr != nil {
		return "", fmt.Errorf("llmextract: retry call failed: %w", rerr)
	}
	if verr := validate(raw); verr != nil {
		return "", fmt.Errorf("llmextract: retry response still invalid: %w", verr)
	}
	return raw, nil
}

// geminiSchemaClient is the thin HTTP-free adapter over genai.Client that
// implements schemaClient using GenerateContent with a ResponseSchema,
// mirroring client_gemini.go's CompleteWithSchema.
type geminiSchemaClient struct {
	client *genai.Client
	model  string
}

func newGeminiSchemaClient(ctx context.Context, apiKey, model string) (*geminiSchemaClient, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llmextract: client creation failed: %w", err)
	}
	return &geminiSchemaClient{client: c, model: model}, nil
}

func (g *geminiSchemaClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction:    genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:     "application/json",
		ResponseSchema:       schemaToGenAI(schema),
	}
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("genai generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("genai generate: empty response")
	}
	return text, nil
}

// schemaToGenAI converts the package's plain map[string]any JSON-schema
// literals into genai.Schema, since the genai SDK enforces its own typed
// schema representation rather than accepting a raw JSON document.
func schemaToGenAI(s map[string]any) *genai.Schema {
	out := &genai.Schema{}
	if t, ok := s["type"].(string); ok {
		out.Type = genaiType(t)
	}
	if req, ok := s["required"].([]string); ok {
		out.Required = req
	}
	if props, ok := s["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for k, v := range props {
			if vm, ok := v.(map[string]any); ok {
				out.Properties[k] = schemaToGenAI(vm)
			}
		}
	}
	if items, ok := s["items"].(map[string]any); ok {
		out.Items = schemaToGenAI(items)
	}
	if enum, ok := s["enum"].([]string); ok {
		out.Enum = enum
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
