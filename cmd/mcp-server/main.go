// Package main provides the MCP server entry point for corpus answering.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/scriptorium-rag/scriptorium/internal/chunker"
	"github.com/scriptorium-rag/scriptorium/internal/config"
	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/embedding"
	"github.com/scriptorium-rag/scriptorium/internal/engine"
	"github.com/scriptorium-rag/scriptorium/internal/generator"
	"github.com/scriptorium-rag/scriptorium/internal/indexer"
	"github.com/scriptorium-rag/scriptorium/internal/llm"
	mcpserver "github.com/scriptorium-rag/scriptorium/internal/mcp"
	"github.com/scriptorium-rag/scriptorium/internal/resolver"
	"github.com/scriptorium-rag/scriptorium/internal/retriever"
	"github.com/scriptorium-rag/scriptorium/internal/storage"
)

func main() {
	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	port := getEnv("PORT", "8080")

	store, err := storage.New(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, cfg.Embedding.Dimension)
	if err != nil {
		log.Fatalf("failed to connect to Qdrant: %v", err)
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx); err != nil {
		log.Fatalf("failed to ensure collection: %v", err)
	}

	client, err := embedding.NewClient()
	if err != nil {
		log.Fatalf("failed to create embedding client: %v", err)
	}
	embedder := embedding.NewEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimension, cfg.Embedding.BatchSize)
	textgen := llm.NewGenerator(client, cfg.Generation.Model, cfg.Generation.MaxTokens, cfg.Generation.Temperature)

	ch, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		log.Fatalf("invalid chunking config: %v", err)
	}

	logger := slog.Default()
	idx := indexer.New(ch, embedder, store, store, cfg.Indexing.Concurrency, logger)

	var reranker *retriever.Reranker
	if cfg.Retrieval.Rerank {
		reranker = retriever.NewReranker(textgen, logger)
	}
	ret := retriever.New(embedder, store, store, reranker, cfg.Retrieval.TopK, logger)

	intents := make([]domain.Intent, 0, len(cfg.Resolver.Intents))
	for _, ic := range cfg.Resolver.Intents {
		intents = append(intents, domain.Intent{
			Name:        ic.Name,
			Description: ic.Description,
			Retrieval:   ic.Retrieval,
		})
	}
	res := resolver.New(textgen, intents, cfg.Resolver.HistoryLimit, logger)
	gen := generator.New(textgen, logger)
	eng := engine.New(res, ret, gen, cfg.Resolver.HistoryLimit, logger)

	server := mcpserver.NewServer(&mcpserver.Config{
		Engine:   eng,
		Indexer:  idx,
		Metadata: store,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(store))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))

	// Server mode serves MCP over HTTP; the default is stdio for local clients.
	serverMode := getEnv("SERVER_MODE", "false") == "true"

	if serverMode {
		addr := "0.0.0.0:" + port
		log.Printf("Starting HTTP server on %s (MCP at /mcp, health at /health)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	} else {
		// Health endpoint stays available in the background for local testing.
		go func() {
			addr := "0.0.0.0:" + port
			log.Printf("Starting health server on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("Health server error: %v", err)
			}
		}()

		log.Println("Starting Scriptorium MCP Server (stdio mode)...")
		if err := server.Run(ctx); err != nil {
			log.Printf("server error: %v", err)
			os.Exit(1)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
