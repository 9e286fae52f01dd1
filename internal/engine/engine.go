// Package engine wires the query path: resolve the question, retrieve when
// the intent calls for it, generate the answer. Queries are stateless; the
// caller owns dialogue history and passes it read-only.
package engine

import (
	"context"
	"log/slog"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/generator"
	"github.com/scriptorium-rag/scriptorium/internal/resolver"
	"github.com/scriptorium-rag/scriptorium/internal/retriever"
)

// DefaultHistoryLimit bounds the dialogue turns carried into prompts.
const DefaultHistoryLimit = 10

// Engine answers questions against the indexed corpus.
type Engine struct {
	resolver     *resolver.Resolver
	retriever    *retriever.Retriever
	generator    *generator.Generator
	historyLimit int
	logger       *slog.Logger
}

// New creates an Engine. A non-positive history limit selects the default.
func New(res *resolver.Resolver, ret *retriever.Retriever, gen *generator.Generator, historyLimit int, logger *slog.Logger) *Engine {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		resolver:     res,
		retriever:    ret,
		generator:    gen,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Query answers a question. Scopes restricts retrieval to specific documents;
// nil means every queryable document. topK <= 0 selects the configured
// retrieval default. Retrieval is skipped entirely for intents that don't
// need it, so conversational turns never pick up irrelevant citations.
func (e *Engine) Query(ctx context.Context, question string, history []domain.DialogueTurn, scopes []domain.DocumentScope, topK int) (*domain.Answer, error) {
	if len(history) > e.historyLimit {
		history = history[len(history)-e.historyLimit:]
	}

	resolved := e.resolver.Resolve(ctx, question, history)
	e.logger.Debug("query resolved",
		"intent", resolved.Intent.Name,
		"retrieval", resolved.NeedsRetrieval,
		"rewritten", resolved.Enhanced != "")

	var results []domain.RetrievalResult
	if resolved.NeedsRetrieval {
		var err error
		results, err = e.retriever.Retrieve(ctx, resolved.Query(), topK, scopes)
		if err != nil {
			return nil, err
		}
	}

	return e.generator.Generate(ctx, resolved, history, results)
}
