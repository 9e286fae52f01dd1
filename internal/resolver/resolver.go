// Package resolver turns a raw user question plus recent dialogue into a
// retrieval-ready query: it classifies the question's intent and, when the
// question leans on prior turns (pronouns, ellipsis), rewrites it into a
// standalone form. The resolver never fails a query: every model error or
// unparsable response degrades to the original question with the default
// retrieval intent.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
)

// DefaultHistoryLimit bounds how many prior turns inform classification and
// rewriting.
const DefaultHistoryLimit = 10

// classifyMaxTokens bounds the classification response, which is one label.
const classifyMaxTokens = 20

// DefaultIntents is the built-in category set. The set is configuration;
// deployments narrow or extend it without code changes.
func DefaultIntents() []domain.Intent {
	return []domain.Intent{
		{
			Name:        "conversational",
			Description: "Greetings, small talk, personal questions, opinions",
			Retrieval:   false,
		},
		{
			Name:        "factual",
			Description: "Questions requiring document search or specific knowledge from the corpus",
			Retrieval:   true,
		},
		{
			Name:        "itinerary",
			Description: "Requests to plan a visit, tour, or schedule around places and periods in the corpus",
			Retrieval:   true,
		},
	}
}

// Resolver classifies and rewrites queries with a text generator.
type Resolver struct {
	generator    domain.TextGenerator
	intents      []domain.Intent
	historyLimit int
	logger       *slog.Logger
}

// New creates a Resolver. Empty intents select DefaultIntents; a non-positive
// history limit selects DefaultHistoryLimit.
func New(generator domain.TextGenerator, intents []domain.Intent, historyLimit int, logger *slog.Logger) *Resolver {
	if len(intents) == 0 {
		intents = DefaultIntents()
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		generator:    generator,
		intents:      intents,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Resolve classifies the question and rewrites it against recent history.
// Model calls are made without the retry budget; on any failure the original
// question passes through under the fallback intent.
func (r *Resolver) Resolve(ctx context.Context, question string, history []domain.DialogueTurn) domain.ResolvedQuery {
	history = trimHistory(history, r.historyLimit)

	intent := r.classify(ctx, question)

	resolved := domain.ResolvedQuery{
		Original:       question,
		Intent:         intent,
		NeedsRetrieval: intent.Retrieval,
	}
	if intent.Retrieval && len(history) > 0 {
		resolved.Enhanced = r.rewrite(ctx, question, history)
	}
	return resolved
}

// classify asks the model for one category label. An unrecognized or failed
// response falls back to the first retrieval intent, so ambiguous questions
// err toward searching the corpus.
func (r *Resolver) classify(ctx context.Context, question string) domain.Intent {
	response, err := r.generator.Generate(ctx, r.classifyPrompt(question),
		domain.WithoutRetry(), domain.WithMaxTokens(classifyMaxTokens), domain.WithTemperature(0.0))
	if err != nil {
		r.logger.Warn("intent classification failed, using fallback", "error", err)
		return r.fallbackIntent()
	}

	label := strings.ToLower(strings.TrimSpace(response))
	for _, intent := range r.intents {
		if strings.Contains(label, strings.ToLower(intent.Name)) {
			return intent
		}
	}
	r.logger.Warn("ambiguous intent classification, using fallback", "response", label)
	return r.fallbackIntent()
}

// fallbackIntent is the first retrieval-bearing intent, or the first intent
// when none requires retrieval.
func (r *Resolver) fallbackIntent() domain.Intent {
	for _, intent := range r.intents {
		if intent.Retrieval {
			return intent
		}
	}
	return r.intents[0]
}

func (r *Resolver) classifyPrompt(question string) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant that classifies user messages into exactly ONE of these categories:\n")
	for i, intent := range r.intents {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, capitalize(intent.Name), intent.Description)
	}
	fmt.Fprintf(&b, "\nUser message: %q\n\nRespond with just the category name: one of ", question)
	for i, intent := range r.intents {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q", intent.Name)
	}
	b.WriteString(".")
	return b.String()
}

// rewrite asks the model for a standalone restatement of the question. The
// model returns the question verbatim when it is already self-contained; that
// case, and every failure, yields an empty rewrite so downstream stages use
// the original.
func (r *Resolver) rewrite(ctx context.Context, question string, history []domain.DialogueTurn) string {
	response, err := r.generator.Generate(ctx, rewritePrompt(question, history), domain.WithoutRetry())
	if err != nil {
		r.logger.Warn("query rewrite failed, using original", "error", err)
		return ""
	}

	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(response), `"`))
	if rewritten == "" || strings.EqualFold(rewritten, strings.TrimSpace(question)) {
		return ""
	}
	return rewritten
}

func rewritePrompt(question string, history []domain.DialogueTurn) string {
	var b strings.Builder
	b.WriteString("Rewrite the user's latest question as a single standalone question that can be understood without the conversation. ")
	b.WriteString("Replace pronouns and vague references with the specific names or topics they refer to. ")
	b.WriteString("If the question is already self-contained, return it exactly as written. ")
	b.WriteString("Return only the question, with no explanation.\n\nConversation:\n")
	for _, turn := range history {
		if turn.Role == "user" {
			fmt.Fprintf(&b, "Human: %s\n", turn.Content)
		} else {
			fmt.Fprintf(&b, "Assistant: %s\n", turn.Content)
		}
	}
	fmt.Fprintf(&b, "\nLatest question: %s\n\nStandalone question:", question)
	return b.String()
}

// trimHistory keeps the most recent turns.
func trimHistory(history []domain.DialogueTurn, limit int) []domain.DialogueTurn {
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
