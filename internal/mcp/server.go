package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/engine"
	"github.com/scriptorium-rag/scriptorium/internal/indexer"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server  *mcp.Server
	engine  *engine.Engine
	indexer *indexer.Indexer
}

// Config holds server dependencies.
type Config struct {
	Engine   *engine.Engine
	Indexer  *indexer.Indexer
	Metadata domain.MetadataStore
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "scriptorium-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_corpus",
		Description: "Answer a natural-language question from the indexed document corpus. Returns the answer with page-level citations.",
	}, makeQueryHandler(cfg.Engine, cfg.Metadata))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_index",
		Description: "Start indexing an extracted document text file in the background. Returns accepted or already_indexing; poll get_index_status for the outcome.",
	}, makeStartIndexHandler(cfg.Indexer))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Get a document's indexing status: lifecycle state, progress, chunk and page counts, and last error if any.",
	}, makeStatusHandler(cfg.Indexer))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List every known document with its indexing status.",
	}, makeListHandler(cfg.Indexer))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_document",
		Description: "Remove a document's records and metadata from the index.",
	}, makeRemoveHandler(cfg.Indexer))

	return &Server{
		server:  server,
		engine:  cfg.Engine,
		indexer: cfg.Indexer,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
