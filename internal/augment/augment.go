// Package augment prepends lightweight document context to chunks before
// embedding. Passages that are ambiguous in isolation ("the pyramid", "he
// ruled for decades") retrieve poorly; a short prefix naming the document and
// the chunk's place in it measurably improves nearest-neighbor precision.
//
// The step is purely textual and deterministic: identical inputs always
// produce identical prefixes, and the prefix is stored separately from the
// raw text so citations keep the original source wording.
package augment

import (
	"fmt"
	"strings"

	"github.com/scriptorium-rag/scriptorium/internal/document"
	"github.com/scriptorium-rag/scriptorium/internal/domain"
)

// maxLeadLen bounds the section hint taken from a chunk's first line.
const maxLeadLen = 80

// Augmenter builds context prefixes for one document's chunks.
type Augmenter struct {
	title     string
	pageCount int
}

// New creates an Augmenter for a document.
func New(doc *document.Document) *Augmenter {
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = doc.ID
	}
	return &Augmenter{title: title, pageCount: doc.PageCount()}
}

// Apply fills ContextPrefix on every chunk and returns the slice. The prefix
// names the document, locates the chunk by page, and carries a section hint
// from the opening line of the preceding chunk, which usually holds the
// nearest heading or sentence lead-in.
func (a *Augmenter) Apply(chunks []domain.Chunk) []domain.Chunk {
	for i := range chunks {
		var b strings.Builder
		fmt.Fprintf(&b, "Document: %s. Page %d of %d.", a.title, chunks[i].Page, a.pageCount)
		if i > 0 {
			if hint := leadLine(chunks[i-1].Text); hint != "" {
				fmt.Fprintf(&b, " Preceding passage begins: %q.", hint)
			}
		}
		chunks[i].ContextPrefix = b.String()
	}
	return chunks
}

// leadLine extracts the first non-empty line of text, truncated to a bounded
// length on a word boundary.
func leadLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) <= maxLeadLen {
			return line
		}
		cut := strings.LastIndex(line[:maxLeadLen], " ")
		if cut <= 0 {
			cut = maxLeadLen
		}
		return line[:cut]
	}
	return ""
}
