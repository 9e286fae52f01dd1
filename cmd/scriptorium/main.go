// Package main provides the scriptorium CLI for indexing and querying
// document corpora.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriptorium-rag/scriptorium/internal/chunker"
	"github.com/scriptorium-rag/scriptorium/internal/config"
	"github.com/scriptorium-rag/scriptorium/internal/document"
	"github.com/scriptorium-rag/scriptorium/internal/domain"
	"github.com/scriptorium-rag/scriptorium/internal/embedding"
	"github.com/scriptorium-rag/scriptorium/internal/engine"
	"github.com/scriptorium-rag/scriptorium/internal/generator"
	"github.com/scriptorium-rag/scriptorium/internal/indexer"
	"github.com/scriptorium-rag/scriptorium/internal/llm"
	"github.com/scriptorium-rag/scriptorium/internal/resolver"
	"github.com/scriptorium-rag/scriptorium/internal/retriever"
	"github.com/scriptorium-rag/scriptorium/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "scriptorium",
	Short: "Document corpus indexing and question answering",
	Long: `CLI tool for indexing extracted document text into Qdrant and answering
natural-language questions against it with page-level citations.

Environment variables:
  OPENAI_API_KEY OpenAI API key for embeddings and generation (required)`,
}

var indexCmd = &cobra.Command{
	Use:   "index <path>...",
	Short: "Index extracted document text files",
	Long: `Chunks, augments, embeds, and stores each document. Re-indexing a
document replaces its previous version atomically; the old version stays
queryable until the new one is complete.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question against the indexed corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var statusCmd = &cobra.Command{
	Use:   "status [document-id]",
	Short: "Show indexing status for one document, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known document with its indexing status",
	RunE:  runList,
}

var rmCmd = &cobra.Command{
	Use:   "rm <document-id>",
	Short: "Remove a document from the index",
	RunE:  runRemove,
	Args:  cobra.ExactArgs(1),
}

var (
	queryDocs    []string
	queryTopK    int
	queryHistory string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	queryCmd.Flags().StringSliceVar(&queryDocs, "document", nil, "restrict retrieval to these document IDs")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of passages to retrieve (0 uses the configured default)")
	queryCmd.Flags().StringVar(&queryHistory, "history", "", "JSON file with prior dialogue turns")
	rootCmd.AddCommand(indexCmd, queryCmd, statusCmd, listCmd, rmCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired components shared by the commands.
type app struct {
	cfg     *config.Config
	store   *storage.Qdrant
	indexer *indexer.Indexer
	engine  *engine.Engine
	metas   domain.MetadataStore
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("connect to Qdrant: %w", err)
	}
	if err := store.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	client, err := embedding.NewClient()
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimension, cfg.Embedding.BatchSize)
	textgen := llm.NewGenerator(client, cfg.Generation.Model, cfg.Generation.MaxTokens, cfg.Generation.Temperature)

	ch, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	idx := indexer.New(ch, embedder, store, store, cfg.Indexing.Concurrency, logger)

	var reranker *retriever.Reranker
	if cfg.Retrieval.Rerank {
		reranker = retriever.NewReranker(textgen, logger)
	}
	ret := retriever.New(embedder, store, store, reranker, cfg.Retrieval.TopK, logger)
	res := resolver.New(textgen, intentsFrom(cfg), cfg.Resolver.HistoryLimit, logger)
	gen := generator.New(textgen, logger)
	eng := engine.New(res, ret, gen, cfg.Resolver.HistoryLimit, logger)

	return &app{cfg: cfg, store: store, indexer: idx, engine: eng, metas: store}, nil
}

func intentsFrom(cfg *config.Config) []domain.Intent {
	intents := make([]domain.Intent, 0, len(cfg.Resolver.Intents))
	for _, ic := range cfg.Resolver.Intents {
		intents = append(intents, domain.Intent{
			Name:        ic.Name,
			Description: ic.Description,
			Retrieval:   ic.Retrieval,
		})
	}
	return intents
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.store.Close()

	start := time.Now()
	failed := 0
	for _, path := range args {
		doc, err := document.Load(path)
		if err != nil {
			fmt.Printf("  %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("Indexing %s (%d pages)...\n", doc.ID, doc.PageCount())
		if err := a.indexer.Index(ctx, doc); err != nil {
			fmt.Printf("  %s: %v\n", doc.ID, err)
			failed++
			continue
		}
		st, err := a.indexer.Status(ctx, doc.ID)
		if err == nil {
			fmt.Printf("  %s: %d chunks\n", doc.ID, st.ChunkCount)
		}
	}

	fmt.Printf("\nDone: %d/%d documents in %s\n",
		len(args)-failed, len(args), time.Since(start).Round(time.Second))
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed", failed)
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.store.Close()

	question := strings.Join(args, " ")

	var history []domain.DialogueTurn
	if queryHistory != "" {
		data, err := os.ReadFile(queryHistory)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if err := json.Unmarshal(data, &history); err != nil {
			return fmt.Errorf("parse history: %w", err)
		}
	}

	var scopes []domain.DocumentScope
	if len(queryDocs) > 0 {
		for _, id := range queryDocs {
			meta, err := a.metas.GetMeta(ctx, id)
			if err != nil {
				return err
			}
			if meta == nil || meta.IndexRun == "" {
				return fmt.Errorf("document %q is not indexed", id)
			}
			scopes = append(scopes, domain.DocumentScope{DocumentID: id, IndexRun: meta.IndexRun})
		}
	}

	answer, err := a.engine.Query(ctx, question, history, scopes, queryTopK)
	if err != nil {
		return err
	}

	fmt.Println(answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range answer.Sources {
			fmt.Printf("  %s page %d: %s\n", src.Reference, src.Page, src.Text)
		}
	}
	if answer.EnhancedQuery != "" {
		fmt.Printf("\n(query interpreted as: %s)\n", answer.EnhancedQuery)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if len(args) == 0 {
		statuses, err := a.indexer.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(statuses)
	}

	st, err := a.indexer.Status(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.store.Close()

	statuses, err := a.indexer.List(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Println("No documents indexed.")
		return nil
	}
	for _, st := range statuses {
		fmt.Printf("%-30s %-10s chunks=%-5d pages=%d\n",
			st.DocumentID, st.Status, st.ChunkCount, st.PageCount)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if err := a.indexer.Remove(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
