// Package domain holds the shared data model and service contracts for the
// retrieval-augmented answering core.
package domain

import "time"

// Chunk is a bounded span of a document's extracted text, tagged with the page
// it starts on. Chunks are immutable once created; ChunkID is stable for a
// given (document, offset) pair so re-indexing identical content yields
// identical IDs.
type Chunk struct {
	ChunkID       string
	DocumentID    string
	Index         int // position in document (0, 1, 2...)
	Page          int // page number of the chunk's starting offset
	Offset        int // rune offset into the concatenated document text
	Text          string
	ContextPrefix string // augmentation prefix, kept separate from Text
}

// EmbeddingText returns the string that should be embedded for this chunk:
// the context prefix (when present) followed by the raw text.
func (c Chunk) EmbeddingText() string {
	if c.ContextPrefix == "" {
		return c.Text
	}
	return c.ContextPrefix + "\n\n" + c.Text
}

// EmbeddingRecord is a chunk's embedding plus the metadata needed to cite it.
// Records are owned by the vector index and replaced as a unit per document.
type EmbeddingRecord struct {
	ChunkID    string
	DocumentID string
	Page       int
	Snippet    string // original chunk text, used for citations
	Vector     []float32
}

// ScoredRecord is an embedding record returned from a similarity search.
type ScoredRecord struct {
	EmbeddingRecord
	Score float64
}

// RetrievalResult is a deduplicated, citation-ready search hit.
type RetrievalResult struct {
	ChunkID    string
	DocumentID string
	Page       int
	Snippet    string
	Score      float64
}

// IndexStatus is the lifecycle state of a document's index.
type IndexStatus string

const (
	StatusUnindexed IndexStatus = "unindexed"
	StatusIndexing  IndexStatus = "indexing"
	StatusIndexed   IndexStatus = "indexed"
	StatusFailed    IndexStatus = "failed"
)

// DocumentMeta is the authoritative "is this document queryable" record.
// IndexRun names the embedding-record batch the metadata describes; a search
// must only touch records from live runs.
type DocumentMeta struct {
	DocumentID    string
	Title         string
	Status        IndexStatus
	ChunkCount    int
	PageCount     int
	IndexRun      string
	LastIndexedAt time.Time
	Error         string
}

// DocumentScope identifies the live record batch for one document. Searches
// are restricted to a set of scopes so stale or half-written runs stay
// invisible.
type DocumentScope struct {
	DocumentID string
	IndexRun   string
}

// DialogueTurn is one prior exchange turn, supplied read-only by the caller's
// conversation store, most recent last.
type DialogueTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Intent describes one query category and the generation strategy it selects.
// The category set is configuration, not a closed enum; labels have no meaning
// beyond template selection.
type Intent struct {
	Name        string
	Description string
	Retrieval   bool // whether this intent requires document retrieval
}

// ResolvedQuery is the query resolver's output: the question to retrieve
// with, the verbatim input, and the selected generation strategy.
type ResolvedQuery struct {
	Original       string
	Enhanced       string // empty when the original was already self-contained
	Intent         Intent
	NeedsRetrieval bool
}

// Query returns the text downstream stages should use: the enhanced rewrite
// when present, the original otherwise.
func (r ResolvedQuery) Query() string {
	if r.Enhanced != "" {
		return r.Enhanced
	}
	return r.Original
}

// Source is a page-level citation attached to an answer.
type Source struct {
	Page      int     `json:"page"`
	Text      string  `json:"text"`
	Reference string  `json:"reference"` // footnote marker, e.g. "[1]"
	Score     float64 `json:"score"`
}

// Answer is the full query response. Sources may be empty (answered without
// citations); EnhancedQuery is empty when no rewrite happened. The caller can
// always distinguish "answered with citations", "answered without citations",
// and a failed query (a Go error).
type Answer struct {
	Answer        string   `json:"answer"`
	Sources       []Source `json:"sources"`
	EnhancedQuery string   `json:"enhanced_query,omitempty"`
	OriginalQuery string   `json:"original_query"`
	Intent        string   `json:"intent"`
}
