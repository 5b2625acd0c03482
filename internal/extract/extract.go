// Package extract implements the Fragment/Claim Extractor (spec.md §4.5):
// given a materialized Page, it segments content into Fragments, extracts
// Claims against the task's central hypothesis, and judges each
// (fragment, claim) candidate pair surviving an embedding-similarity
// prefilter through the NLI collaborator.
package extract

import (
	"context"
	"fmt"

	"veritas/internal/collaborators/embedder"
	"veritas/internal/collaborators/llmextract"
	"veritas/internal/collaborators/nli"
	"veritas/internal/logging"
	"veritas/internal/model"
	"veritas/internal/store"
)

// Config bounds FCE's per-page and per-claim work (spec.md §4.5 "Bounds").
type Config struct {
	MaxFragmentsPerPage int
	MaxNLIPairsPerClaim int
	EmbeddingTopK       int
}

func (c Config) maxFragmentsPerPage() int {
	if c.MaxFragmentsPerPage > 0 {
		return c.MaxFragmentsPerPage
	}
	return 200
}

func (c Config) maxNLIPairsPerClaim() int {
	if c.MaxNLIPairsPerClaim > 0 {
		return c.MaxNLIPairsPerClaim
	}
	return 20
}

func (c Config) embeddingTopK() int {
	if c.EmbeddingTopK > 0 {
		return c.EmbeddingTopK
	}
	return 8
}

// Extractor is the search.Extractor implementation the Search Pipeline
// hands each materialized Page to.
type Extractor struct {
	store    *store.Store
	LLM      llmextract.Extractor
	NLI      nli.Classifier
	Embedder embedder.Embedder
	cfg      Config
}

func New(s *store.Store, llm llmextract.Extractor, classifier nli.Classifier, emb embedder.Embedder, cfg Config) *Extractor {
	return &Extractor{store: s, LLM: llm, NLI: classifier, Embedder: emb, cfg: cfg}
}

// ProcessPage runs the full FCE pass over a Page that the Search Pipeline
// has already given at least one raw content Fragment (the abstract
// Fragment of §4.4 step 3, or the single paragraph Fragment a direct fetch
// produces — pages carry no body-text column of their own, so any fetched
// content necessarily lands as a Fragment first). An abstract needs no
// further segmentation; fetched raw content is re-segmented through the
// LLM collaborator into the real ordered Fragment sequence.
func (e *Extractor) ProcessPage(ctx context.Context, taskID string, page *model.Page) (int, error) {
	raw, err := e.store.FragmentsByPage(page.ID)
	if err != nil {
		return 0, fmt.Errorf("extract: load raw fragments: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}

	fragments, err := e.segment(ctx, page, raw)
	if err != nil {
		logging.Extract("page %s: fragment segmentation failed, keeping raw content: %v", page.ID, err)
		fragments = raw
	}

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return len(fragments), fmt.Errorf("extract: load task: %w", err)
	}

	claims, err := e.extractClaims(ctx, taskID, task.CentralHypothesis, fragments)
	if err != nil {
		logging.Extract("page %s: claim extraction failed, no claims added: %v", page.ID, err)
		return len(fragments), nil
	}
	if len(claims) == 0 {
		return len(fragments), nil
	}

	if err := e.judge(ctx, fragments, claims); err != nil {
		logging.Extract("page %s: nli judgement pass failed: %v", page.ID, err)
	}

	return len(fragments), nil
}
