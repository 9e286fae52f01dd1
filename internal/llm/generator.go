// Package llm implements the external text-generation service on the OpenAI
// Chat Completions API. The contract is deliberately narrow: a prompt goes
// in, plain text comes out. No structured output is ever requested or parsed;
// callers derive any structure (citations, orderings) from data they supplied
// themselves.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/embedding"
)

// ErrGeneration marks generation-service unavailability or quota exhaustion
// after the retry budget is exhausted.
var ErrGeneration = errors.New("generation service failed")

const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens caps answer length.
	DefaultMaxTokens = 1024

	// DefaultTemperature is kept low for grounded answering.
	DefaultTemperature = 0.2

	// requestTimeout bounds one generation request.
	requestTimeout = 90 * time.Second
)

// Generator calls the chat model with bounded retry on rate limits.
type Generator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewGenerator creates a Generator sharing the embedding service's OpenAI
// client. Zero values select the defaults.
func NewGenerator(client *embedding.Client, model string, maxTokens int, temperature float64) *Generator {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &Generator{
		client:      client.Client(),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Generate produces text for the prompt. Rate-limit errors are retried with
// exponential backoff unless the caller passed domain.WithoutRetry, in which
// case a single attempt is made (resolver calls fall back rather than wait).
func (g *Generator) Generate(ctx context.Context, prompt string, opts ...domain.GenerateOption) (string, error) {
	options := domain.GenerateOptions{
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}
	for _, opt := range opts {
		opt(&options)
	}

	var text string
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		resp, err := g.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model:               g.model,
			MaxCompletionTokens: openai.Int(int64(options.MaxTokens)),
			Temperature:         openai.Float(options.Temperature),
		})
		if err != nil {
			if !options.NoRetry && isRateLimitError(err) {
				return err // retried with backoff
			}
			return backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("empty completion response"))
		}
		text = resp.Choices[0].Message.Content
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return text, nil
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
