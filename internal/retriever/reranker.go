package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
)

// rerankMaxTokens bounds the reranking response, which is a short number list.
const rerankMaxTokens = 50

// Reranker reorders retrieval results by asking the model to rank the
// passages against the query. It is best-effort: any failure or unparsable
// response leaves the similarity ordering in place.
type Reranker struct {
	generator domain.TextGenerator
	logger    *slog.Logger
}

// NewReranker creates a Reranker.
func NewReranker(generator domain.TextGenerator, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{generator: generator, logger: logger}
}

// Rerank reorders results by model-judged relevance. Results listed by the
// model come first in its order; omitted results keep their relative order at
// the end, so the output is always a permutation of the input.
func (r *Reranker) Rerank(ctx context.Context, query string, results []domain.RetrievalResult) []domain.RetrievalResult {
	if len(results) <= 1 {
		return results
	}

	response, err := r.generator.Generate(ctx, rerankPrompt(query, results),
		domain.WithoutRetry(), domain.WithMaxTokens(rerankMaxTokens), domain.WithTemperature(0.0))
	if err != nil {
		r.logger.Warn("reranking failed, keeping similarity order", "error", err)
		return results
	}

	order := parseOrder(response, len(results))
	if order == nil {
		r.logger.Warn("unparsable reranking response, keeping similarity order", "response", response)
		return results
	}

	reranked := make([]domain.RetrievalResult, 0, len(results))
	for _, idx := range order {
		reranked = append(reranked, results[idx])
	}
	return reranked
}

func rerankPrompt(query string, results []domain.RetrievalResult) string {
	var b strings.Builder
	b.WriteString("Rerank these document passages by their relevance to the query.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\nDocuments:\n", query)
	for i, res := range results {
		fmt.Fprintf(&b, "Document %d:\n%s\n\n", i+1, res.Snippet)
	}
	b.WriteString("Consider how directly each document answers the query and how specific it is to the topic. ")
	b.WriteString("Return only a comma-separated list of document numbers in order of relevance, most relevant first. ")
	b.WriteString("For example: 3,1,5,2,4")
	return b.String()
}

// parseOrder extracts a permutation of [0,n) from a comma-separated ranking.
// Out-of-range and duplicate numbers are skipped; indices the model omitted
// are appended in their original order. Returns nil when no valid number was
// found at all.
func parseOrder(response string, n int) []int {
	seen := make(map[int]bool, n)
	var order []int
	for _, field := range strings.Split(strings.TrimSpace(response), ",") {
		num, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			continue
		}
		idx := num - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	if len(order) == 0 {
		return nil
	}
	for i := range n {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order
}
