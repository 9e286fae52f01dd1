// Package document models already-extracted, page-tagged document text.
// PDF parsing happens upstream; the core receives its output in one of two
// interchange forms (JSON page list, or plain text with form-feed page
// breaks).
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrExtraction marks an unreadable or empty source document.
var ErrExtraction = errors.New("document extraction failed")

// Page is one page of extracted text.
type Page struct {
	Number int    `json:"page"`
	Text   string `json:"text"`
}

// Document is the extracted text of one source document.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Pages []Page `json:"pages"`
}

// PageCount returns the highest page number present.
func (d *Document) PageCount() int {
	max := 0
	for _, p := range d.Pages {
		if p.Number > max {
			max = p.Number
		}
	}
	return max
}

// Text returns the concatenated page text and a PageMap attributing rune
// offsets of the concatenation back to page numbers. Pages are joined with a
// single newline so windows can span page breaks.
func (d *Document) Text() (string, PageMap) {
	var b strings.Builder
	var spans []pageSpan
	offset := 0
	for i, p := range d.Pages {
		if i > 0 {
			b.WriteString("\n")
			offset++
		}
		runes := len([]rune(p.Text))
		spans = append(spans, pageSpan{start: offset, page: p.Number})
		b.WriteString(p.Text)
		offset += runes
	}
	return b.String(), PageMap{spans: spans}
}

// PageMap maps rune offsets in concatenated document text to page numbers.
type PageMap struct {
	spans []pageSpan
}

type pageSpan struct {
	start int
	page  int
}

// PageAt returns the page number owning the given rune offset. Offsets past
// the end belong to the last page.
func (m PageMap) PageAt(offset int) int {
	if len(m.spans) == 0 {
		return 0
	}
	page := m.spans[0].page
	for _, s := range m.spans {
		if offset < s.start {
			break
		}
		page = s.page
	}
	return page
}

// Load reads an extracted document from path. ".json" files carry the page
// list form; anything else is treated as plain text with form-feed (\f) page
// separators, the convention common PDF text extractors emit.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	var doc *Document
	if strings.EqualFold(filepath.Ext(path), ".json") {
		doc = &Document{}
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrExtraction, path, err)
		}
	} else {
		doc = fromPlainText(string(data))
	}

	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if doc.ID == "" {
		doc.ID = stem
	}
	if doc.Title == "" {
		doc.Title = titleFromStem(stem)
	}

	return doc, Validate(doc)
}

// Validate checks the invariants the rest of the pipeline relies on: at least
// one page with text, positive page numbers, strictly increasing order.
func Validate(d *Document) error {
	if d.ID == "" {
		return fmt.Errorf("%w: document has no id", ErrExtraction)
	}
	if len(d.Pages) == 0 {
		return fmt.Errorf("%w: document %q has no pages", ErrExtraction, d.ID)
	}
	prev := 0
	empty := true
	for _, p := range d.Pages {
		if p.Number <= prev {
			return fmt.Errorf("%w: document %q page numbers not increasing at page %d", ErrExtraction, d.ID, p.Number)
		}
		prev = p.Number
		if strings.TrimSpace(p.Text) != "" {
			empty = false
		}
	}
	if empty {
		return fmt.Errorf("%w: document %q contains no extractable text", ErrExtraction, d.ID)
	}
	return nil
}

func fromPlainText(text string) *Document {
	parts := strings.Split(text, "\f")
	doc := &Document{}
	for i, part := range parts {
		doc.Pages = append(doc.Pages, Page{Number: i + 1, Text: part})
	}
	return doc
}

func titleFromStem(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-'
	})
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
