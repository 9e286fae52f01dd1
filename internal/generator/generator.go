// Package generator produces the final answer from a resolved query and its
// retrieval results. One generation call per query; the sources attached to
// the answer are derived from the retrieval results the prompt actually
// contained, never parsed out of model output.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
)

// maxSourceTextLen bounds the snippet carried by each citation.
const maxSourceTextLen = 200

// Generator builds grounded prompts and shapes answers with citations.
type Generator struct {
	textgen domain.TextGenerator
	logger  *slog.Logger
}

// New creates a Generator.
func New(textgen domain.TextGenerator, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{textgen: textgen, logger: logger}
}

// Generate answers the resolved query. Retrieval-bearing intents get a
// strictly grounded prompt over the retrieved passages; conversational
// intents get a direct prompt with no documents. A generation failure fails
// the query.
func (g *Generator) Generate(ctx context.Context, resolved domain.ResolvedQuery, history []domain.DialogueTurn, results []domain.RetrievalResult) (*domain.Answer, error) {
	var prompt string
	if resolved.NeedsRetrieval {
		prompt = groundedPrompt(resolved.Query(), history, results)
	} else {
		prompt = conversationalPrompt(resolved.Query(), history)
	}

	text, err := g.textgen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	answer := &domain.Answer{
		Answer:        strings.TrimSpace(text),
		Sources:       sourcesFrom(results),
		EnhancedQuery: resolved.Enhanced,
		OriginalQuery: resolved.Original,
		Intent:        resolved.Intent.Name,
	}
	g.logger.Debug("answer generated",
		"intent", answer.Intent, "sources", len(answer.Sources))
	return answer, nil
}

// groundedPrompt builds the retrieval-backed prompt. With zero results the
// model is told explicitly that no supporting documents were found, so it may
// answer from general knowledge while the caller sees an empty source list.
func groundedPrompt(query string, history []domain.DialogueTurn, results []domain.RetrievalResult) string {
	var b strings.Builder

	if len(results) == 0 {
		b.WriteString("No supporting documents were found for the following question. ")
		b.WriteString("Answer from general knowledge if you can, and say clearly that the indexed documents contain nothing on this topic.\n\n")
		writeHistory(&b, history)
		fmt.Fprintf(&b, "Question: %s\n\nAnswer:", query)
		return b.String()
	}

	b.WriteString("Answer the following question based ONLY on the provided context.\n\n")
	b.WriteString("IMPORTANT INSTRUCTIONS:\n")
	b.WriteString("1. If the answer is not explicitly stated in the context, say the documents do not contain specific information about this.\n")
	b.WriteString("2. Do not use any prior knowledge.\n")
	b.WriteString("3. If information in the documents conflicts, acknowledge this in your answer.\n")
	b.WriteString("4. Never make up information or infer beyond what is explicitly stated.\n")
	b.WriteString("5. State each piece of information only once.\n\n")

	b.WriteString("Context:\n")
	for i, res := range results {
		fmt.Fprintf(&b, "[Document %d] (Page %d):\n%s\n\n", i+1, res.Page, res.Snippet)
	}

	writeHistory(&b, history)
	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", query)
	return b.String()
}

// conversationalPrompt builds a direct prompt with no document context.
func conversationalPrompt(query string, history []domain.DialogueTurn) string {
	var b strings.Builder
	b.WriteString("You are a friendly assistant with expertise in the user's document collection. ")
	b.WriteString("Respond conversationally to the following message. ")
	b.WriteString("Do not mention documents or searching for information, just respond naturally.\n\n")
	writeHistory(&b, history)
	fmt.Fprintf(&b, "Human: %s\n\nAssistant:", query)
	return b.String()
}

func writeHistory(b *strings.Builder, history []domain.DialogueTurn) {
	if len(history) == 0 {
		return
	}
	b.WriteString("Previous conversation:\n")
	for _, turn := range history {
		if turn.Role == "user" {
			fmt.Fprintf(b, "Human: %s\n", turn.Content)
		} else {
			fmt.Fprintf(b, "Assistant: %s\n", turn.Content)
		}
	}
	b.WriteString("\n")
}

// sourcesFrom converts retrieval results into page-level citations, in
// retrieval order, with footnote-style reference markers.
func sourcesFrom(results []domain.RetrievalResult) []domain.Source {
	sources := make([]domain.Source, 0, len(results))
	for i, res := range results {
		sources = append(sources, domain.Source{
			Page:      res.Page,
			Text:      truncate(res.Snippet, maxSourceTextLen),
			Reference: fmt.Sprintf("[%d]", i+1),
			Score:     res.Score,
		})
	}
	return sources
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
