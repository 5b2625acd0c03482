package embedder

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"veritas/internal/logging"
)

const maxBatchSize = 100

func int32Ptr(i int32) *int32 { return &i }

// GenAIEmbedder generates embeddings using Google's Gemini API, adapted
// from the teacher's embedding.GenAIEngine.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
	dims   int32
}

// NewGenAIEmbedder builds a GenAI-backed embedder. model defaults to
// gemini-embedding-001; dims defaults to 3072 (the model's native size).
func NewGenAIEmbedder(ctx context.Context, apiKey, model string, dims int32) (*GenAIEmbedder, error) {
	timer := logging.StartTimer(logging.CategoryCollaborator, "NewGenAIEmbedder")
	defer timer.Stop()

	if apiKey == "" {
		return nil, fmt.Errorf("genai embedder: API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dims == 0 {
		dims = 3072
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai embedder: client creation failed: %w", err)
	}
	logging.Collaborator("genai embedder ready: model=%s dims=%d", model, dims)
	return &GenAIEmbedder{client: client, model: model, dims: dims}, nil
}

func (e *GenAIEmbedder) Dimensions() int { return int(e.dims) }

// Embed batches texts through EmbedContent, chunking at the API's 100-item
// batch limit.
func (e *GenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= maxBatchSize {
		return e.embedChunk(ctx, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (e *GenAIEmbedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	start := time.Now()
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(e.dims),
	})
	logging.CollaboratorDebug("genai embed call: %d texts, latency=%v", len(texts), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
