// Package chunker splits extracted document text into overlapping fixed-size
// passages tagged with their originating page.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/scriptorium-rag/scriptorium/internal/document"
	"github.com/scriptorium-rag/scriptorium/internal/domain"
)

// ErrInvalidConfig marks unusable chunking parameters.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// chunkNamespace seeds deterministic chunk IDs. Re-chunking byte-identical
// content must reproduce the same IDs so re-indexing is idempotent.
var chunkNamespace = uuid.MustParse("8b1f7f60-90ce-4f93-9a5d-3f52cf2a6b41")

// Chunker splits text into windows of Size runes, each subsequent window
// starting Size-Overlap runes after the previous one, so content near cut
// points appears in two chunks.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Overlap must be non-negative and strictly smaller
// than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split chunks a document. It is a pure function of its input: no network
// calls, identical input yields identical chunks and chunk IDs. The final
// chunk may be shorter than the configured size; whitespace-only windows are
// dropped.
func (c *Chunker) Split(doc *document.Document) ([]domain.Chunk, error) {
	if err := document.Validate(doc); err != nil {
		return nil, err
	}

	text, pages := doc.Text()
	runes := []rune(text)
	step := c.size - c.overlap

	var chunks []domain.Chunk
	for pos := 0; pos < len(runes); pos += step {
		end := pos + c.size
		if end > len(runes) {
			end = len(runes)
		}
		body := string(runes[pos:end])
		if strings.TrimSpace(body) == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			ChunkID:    ChunkID(doc.ID, pos),
			DocumentID: doc.ID,
			Index:      len(chunks),
			Page:       pages.PageAt(pos),
			Offset:     pos,
			Text:       body,
		})
	}
	return chunks, nil
}

// ChunkID derives the stable identifier for the chunk starting at the given
// rune offset of a document.
func ChunkID(documentID string, offset int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", documentID, offset))).String()
}
