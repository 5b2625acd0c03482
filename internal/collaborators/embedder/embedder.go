// Package embedder wraps the embedding collaborator: embed(texts[]) ->
// vectors[]. Embeddings feed the FCE similarity prefilter and the
// vector_search tool.
package embedder

import "context"

// Embedder is the collaborator interface the rest of the module depends
// on; production code talks to GenAI, tests use a fake.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
