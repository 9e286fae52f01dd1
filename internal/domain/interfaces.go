package domain

import "context"

// Embedder converts text into fixed-dimension vectors via an external model.
// Implementations must be deterministic for identical input within a model
// version.
type Embedder interface {
	// EmbedTexts embeds a batch of texts, preserving order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the vector length D every embedding carries.
	Dimension() int
}

// GenerateOption adjusts a single generation call.
type GenerateOption func(*GenerateOptions)

// GenerateOptions is the resolved option set for one generation call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
	NoRetry     bool // single attempt; used where the caller falls back instead
}

// TextGenerator produces free-form text from a prompt via an external model.
// The contract is strictly plain text in, plain text out; callers never parse
// structure out of the response.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
}

// WithMaxTokens caps the generated output length.
func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxTokens = n }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) GenerateOption {
	return func(o *GenerateOptions) { o.Temperature = t }
}

// WithoutRetry disables the transient-failure retry budget for this call.
func WithoutRetry() GenerateOption {
	return func(o *GenerateOptions) { o.NoRetry = true }
}

// VectorIndex is the durable chunk-embedding store. Writes are staged per
// index run: records written under a run become visible to Search only when a
// DocumentScope names that run, so a failed run can be rolled back without the
// prior state ever changing.
type VectorIndex interface {
	// ReplaceDocument stages the full record set for a document under run.
	// It does not alter the visibility of earlier runs.
	ReplaceDocument(ctx context.Context, documentID, run string, records []EmbeddingRecord) error
	// DeleteRun removes all records a run wrote for a document. Used to roll
	// back a failed indexing attempt.
	DeleteRun(ctx context.Context, documentID, run string) error
	// PruneRuns removes every record for a document except those of keepRun.
	// Used after a successful replace to garbage-collect the superseded batch.
	PruneRuns(ctx context.Context, documentID, keepRun string) error
	// Search returns the topK records most similar to vector, restricted to
	// the given scopes. Fewer than topK are returned when the scoped corpus is
	// smaller.
	Search(ctx context.Context, vector []float32, topK int, scopes []DocumentScope) ([]ScoredRecord, error)
	// Remove deletes every record for a document, all runs included.
	Remove(ctx context.Context, documentID string) error
}

// MetadataStore persists one DocumentMeta per document. Flipping a meta record
// to a new IndexRun is what makes that run's records live.
type MetadataStore interface {
	GetMeta(ctx context.Context, documentID string) (*DocumentMeta, error)
	PutMeta(ctx context.Context, meta *DocumentMeta) error
	ListMeta(ctx context.Context) ([]*DocumentMeta, error)
	DeleteMeta(ctx context.Context, documentID string) error
}
