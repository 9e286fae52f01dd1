// Package mcp exposes the answering engine and indexer over the Model
// Context Protocol.
package mcp

import (
	"time"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
)

// QueryCorpusInput defines the input parameters for the query_corpus tool.
type QueryCorpusInput struct {
	// Question is the natural-language question to answer.
	Question string `json:"question" jsonschema:"required,description=The natural-language question to answer from the indexed documents"`
	// History is the prior dialogue, most recent turn last.
	History []domain.DialogueTurn `json:"history,omitempty" jsonschema:"description=Prior dialogue turns with role (user or assistant) and content"`
	// DocumentIDs restricts retrieval to specific documents.
	DocumentIDs []string `json:"document_ids,omitempty" jsonschema:"description=Restrict retrieval to these document IDs; empty means all indexed documents"`
	// TopK caps the number of passages retrieved for the answer.
	TopK int `json:"top_k,omitempty" jsonschema:"description=Number of passages to retrieve; omit for the server default"`
}

// QueryCorpusOutput contains the generated answer with citations.
type QueryCorpusOutput struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Sources are page-level citations derived from the retrieved passages.
	Sources []domain.Source `json:"sources"`
	// EnhancedQuery is the standalone rewrite of the question, when one was made.
	EnhancedQuery string `json:"enhanced_query,omitempty"`
	// OriginalQuery is the question as asked.
	OriginalQuery string `json:"original_query"`
	// Intent is the classified query category.
	Intent string `json:"intent"`
}

// StartIndexInput defines the input parameters for the start_index tool.
type StartIndexInput struct {
	// Path is the extracted-text file to index (.json or form-feed paged text).
	Path string `json:"path" jsonschema:"required,description=Path to the extracted document text file to index"`
	// DocumentID overrides the ID derived from the file name.
	DocumentID string `json:"document_id,omitempty" jsonschema:"description=Document ID; defaults to the file name stem"`
}

// StartIndexOutput reports whether the indexing run was admitted.
type StartIndexOutput struct {
	// DocumentID is the document the run applies to.
	DocumentID string `json:"document_id"`
	// Status is "accepted" or "already_indexing".
	Status string `json:"status"`
}

// IndexStatusInput defines the input parameters for the get_index_status tool.
type IndexStatusInput struct {
	// DocumentID is the document to report on.
	DocumentID string `json:"document_id" jsonschema:"required,description=The document ID to report indexing status for"`
}

// IndexStatusOutput reports a document's index lifecycle state.
type IndexStatusOutput struct {
	DocumentID    string    `json:"document_id"`
	Title         string    `json:"title,omitempty"`
	Status        string    `json:"status"`
	Progress      int       `json:"progress"`
	ChunkCount    int       `json:"chunk_count,omitempty"`
	PageCount     int       `json:"page_count,omitempty"`
	LastIndexedAt time.Time `json:"last_indexed_at,omitzero"`
	Error         string    `json:"error,omitempty"`
}

// ListDocumentsInput defines the input parameters for the list_documents
// tool. It takes no parameters.
type ListDocumentsInput struct{}

// ListDocumentsOutput lists every known document with its status.
type ListDocumentsOutput struct {
	Documents []IndexStatusOutput `json:"documents"`
	Count     int                 `json:"count"`
}

// RemoveDocumentInput defines the input parameters for the remove_document tool.
type RemoveDocumentInput struct {
	// DocumentID is the document to remove from the index.
	DocumentID string `json:"document_id" jsonschema:"required,description=The document ID to remove from the index"`
}

// RemoveDocumentOutput confirms the removal.
type RemoveDocumentOutput struct {
	DocumentID string `json:"document_id"`
	Removed    bool   `json:"removed"`
}
