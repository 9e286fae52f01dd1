package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/scriptorium-rag/scriptorium/internal/document"
	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/engine"
	"github.com/scriptorium-rag/scriptorium/internal/indexer"
	"github.com/scriptorium-rag/scriptorium/internal/storage"
)

// makeQueryHandler creates the query_corpus tool handler.
// Query flow:
// 1. Resolve scopes when the caller restricted the document set
// 2. Run the engine: classify, rewrite, retrieve, generate
// 3. Return the answer with page-level citations
func makeQueryHandler(eng *engine.Engine, metas domain.MetadataStore) func(
	context.Context, *mcp.CallToolRequest, QueryCorpusInput,
) (*mcp.CallToolResult, QueryCorpusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueryCorpusInput) (
		*mcp.CallToolResult, QueryCorpusOutput, error,
	) {
		var scopes []domain.DocumentScope
		if len(input.DocumentIDs) > 0 {
			var err error
			scopes, err = scopesFor(ctx, metas, input.DocumentIDs)
			if err != nil {
				return nil, QueryCorpusOutput{}, err
			}
		}

		answer, err := eng.Query(ctx, input.Question, input.History, scopes, input.TopK)
		if err != nil {
			return nil, QueryCorpusOutput{}, fmt.Errorf("query failed: %w", err)
		}

		sources := answer.Sources
		if sources == nil {
			sources = []domain.Source{} // non-nil for JSON marshaling
		}
		return nil, QueryCorpusOutput{
			Answer:        answer.Answer,
			Sources:       sources,
			EnhancedQuery: answer.EnhancedQuery,
			OriginalQuery: answer.OriginalQuery,
			Intent:        answer.Intent,
		}, nil
	}
}

// scopesFor maps requested document IDs to their live index runs. Documents
// that were never indexed are an error; documents with no published run yet
// are skipped.
func scopesFor(ctx context.Context, metas domain.MetadataStore, documentIDs []string) ([]domain.DocumentScope, error) {
	scopes := make([]domain.DocumentScope, 0, len(documentIDs))
	for _, id := range documentIDs {
		meta, err := metas.GetMeta(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read metadata for %q: %w", id, err)
		}
		if meta == nil {
			return nil, fmt.Errorf("%w: %s", storage.ErrDocumentNotFound, id)
		}
		if meta.IndexRun == "" {
			continue
		}
		scopes = append(scopes, domain.DocumentScope{
			DocumentID: meta.DocumentID,
			IndexRun:   meta.IndexRun,
		})
	}
	return scopes, nil
}

// makeStartIndexHandler creates the start_index tool handler. Indexing runs
// in the background; the handler only reports whether the run was admitted.
// Outcomes are observed through get_index_status, never through this call.
func makeStartIndexHandler(idx *indexer.Indexer) func(
	context.Context, *mcp.CallToolRequest, StartIndexInput,
) (*mcp.CallToolResult, StartIndexOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StartIndexInput) (
		*mcp.CallToolResult, StartIndexOutput, error,
	) {
		doc, err := document.Load(input.Path)
		if err != nil {
			return nil, StartIndexOutput{}, fmt.Errorf("load document: %w", err)
		}
		if input.DocumentID != "" {
			doc.ID = input.DocumentID
		}

		if err := idx.Start(doc); err != nil {
			if errors.Is(err, indexer.ErrAlreadyIndexing) {
				return nil, StartIndexOutput{
					DocumentID: doc.ID,
					Status:     "already_indexing",
				}, nil
			}
			return nil, StartIndexOutput{}, err
		}
		return nil, StartIndexOutput{
			DocumentID: doc.ID,
			Status:     "accepted",
		}, nil
	}
}

// makeStatusHandler creates the get_index_status tool handler.
func makeStatusHandler(idx *indexer.Indexer) func(
	context.Context, *mcp.CallToolRequest, IndexStatusInput,
) (*mcp.CallToolResult, IndexStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IndexStatusInput) (
		*mcp.CallToolResult, IndexStatusOutput, error,
	) {
		st, err := idx.Status(ctx, input.DocumentID)
		if err != nil {
			return nil, IndexStatusOutput{}, fmt.Errorf("status failed: %w", err)
		}
		return nil, statusOutput(st), nil
	}
}

// makeListHandler creates the list_documents tool handler.
func makeListHandler(idx *indexer.Indexer) func(
	context.Context, *mcp.CallToolRequest, ListDocumentsInput,
) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (
		*mcp.CallToolResult, ListDocumentsOutput, error,
	) {
		statuses, err := idx.List(ctx)
		if err != nil {
			return nil, ListDocumentsOutput{}, fmt.Errorf("list failed: %w", err)
		}
		docs := make([]IndexStatusOutput, 0, len(statuses))
		for _, st := range statuses {
			docs = append(docs, statusOutput(st))
		}
		return nil, ListDocumentsOutput{Documents: docs, Count: len(docs)}, nil
	}
}

// makeRemoveHandler creates the remove_document tool handler.
func makeRemoveHandler(idx *indexer.Indexer) func(
	context.Context, *mcp.CallToolRequest, RemoveDocumentInput,
) (*mcp.CallToolResult, RemoveDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RemoveDocumentInput) (
		*mcp.CallToolResult, RemoveDocumentOutput, error,
	) {
		if err := idx.Remove(ctx, input.DocumentID); err != nil {
			return nil, RemoveDocumentOutput{}, fmt.Errorf("remove failed: %w", err)
		}
		return nil, RemoveDocumentOutput{
			DocumentID: input.DocumentID,
			Removed:    true,
		}, nil
	}
}

func statusOutput(st *indexer.Status) IndexStatusOutput {
	return IndexStatusOutput{
		DocumentID:    st.DocumentID,
		Title:         st.Title,
		Status:        string(st.Status),
		Progress:      st.Progress,
		ChunkCount:    st.ChunkCount,
		PageCount:     st.PageCount,
		LastIndexedAt: st.LastIndexedAt,
		Error:         st.Error,
	}
}
