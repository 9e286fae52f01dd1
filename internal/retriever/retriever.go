// Package retriever performs similarity search over the live document scopes
// and shapes the hits for citation: deduplicated, ordered, capped at top-k.
// A search failure is fatal for the query; an empty result is a real answer
// ("nothing relevant") and is never substituted for an error.
package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
)

// DefaultTopK is the result cap used when none is configured.
const DefaultTopK = 5

// Retriever embeds queries and searches the vector index.
type Retriever struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	metas    domain.MetadataStore
	reranker *Reranker // nil disables reranking
	topK     int
	logger   *slog.Logger
}

// New creates a Retriever. A nil reranker disables the rerank pass; topK <= 0
// selects DefaultTopK.
func New(embedder domain.Embedder, index domain.VectorIndex, metas domain.MetadataStore, reranker *Reranker, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		metas:    metas,
		reranker: reranker,
		topK:     topK,
		logger:   logger,
	}
}

// Retrieve returns the most relevant passages for the query, restricted to
// the given scopes. When scopes is nil the live scopes are resolved from the
// metadata store. topK <= 0 selects the configured default. A corpus with no
// queryable documents yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, scopes []domain.DocumentScope) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		topK = r.topK
	}

	if scopes == nil {
		var err error
		scopes, err = r.liveScopes(ctx)
		if err != nil {
			return nil, err
		}
	}
	if len(scopes) == 0 {
		r.logger.Debug("no queryable documents", "query", query)
		return nil, nil
	}

	vectors, err := r.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch so deduplication still fills topK.
	scored, err := r.index.Search(ctx, vectors[0], topK*2, scopes)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := dedupe(scored, topK)
	if r.reranker != nil {
		results = r.reranker.Rerank(ctx, query, results)
	}

	r.logger.Debug("retrieval complete", "query", query, "hits", len(results))
	return results, nil
}

// liveScopes collects the (document, run) pairs searches may touch: every
// document with a published index run.
func (r *Retriever) liveScopes(ctx context.Context) ([]domain.DocumentScope, error) {
	metas, err := r.metas.ListMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	var scopes []domain.DocumentScope
	for _, meta := range metas {
		if meta.IndexRun == "" {
			continue
		}
		scopes = append(scopes, domain.DocumentScope{
			DocumentID: meta.DocumentID,
			IndexRun:   meta.IndexRun,
		})
	}
	return scopes, nil
}

// dedupe drops hits whose (page, snippet) pair was already seen, preserving
// score order, and caps the survivors at topK. Overlapping chunk windows make
// near-duplicate hits common around popular passages.
func dedupe(scored []domain.ScoredRecord, topK int) []domain.RetrievalResult {
	type key struct {
		page    int
		snippet string
	}
	seen := make(map[key]bool, len(scored))

	var results []domain.RetrievalResult
	for _, s := range scored {
		k := key{s.Page, s.Snippet}
		if seen[k] {
			continue
		}
		seen[k] = true
		results = append(results, domain.RetrievalResult{
			ChunkID:    s.ChunkID,
			DocumentID: s.DocumentID,
			Page:       s.Page,
			Snippet:    s.Snippet,
			Score:      s.Score,
		})
		if len(results) == topK {
			break
		}
	}
	return results
}
