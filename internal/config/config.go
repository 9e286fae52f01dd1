// Package config loads application configuration from YAML with sensible
// defaults for every field. Secrets (the OpenAI API key) stay in the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// QdrantConfig contains connection details for the Qdrant vector store.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// GenerationConfig configures the text-generation service client.
type GenerationConfig struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// ChunkingConfig configures the document chunker.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// IndexingConfig configures the indexing pipeline.
type IndexingConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// RetrievalConfig configures similarity search and reranking.
type RetrievalConfig struct {
	TopK   int  `yaml:"top_k"`
	Rerank bool `yaml:"rerank"`
}

// IntentConfig describes one query category for the resolver.
type IntentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Retrieval   bool   `yaml:"retrieval"`
}

// ResolverConfig configures query classification and rewriting.
type ResolverConfig struct {
	HistoryLimit int            `yaml:"history_limit"`
	Intents      []IntentConfig `yaml:"intents,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Resolver   ResolverConfig   `yaml:"resolver"`
}

// Load reads configuration from path. A missing file yields the defaults; a
// present file is merged over them. A .env file next to the working directory
// is loaded into the environment when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override connection details without
// editing the config file.
func applyEnv(cfg *Config) {
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		cfg.Qdrant.Host = host
	}
	if port := os.Getenv("QDRANT_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Qdrant.Port = n
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "scriptorium",
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 200,
		},
		Generation: GenerationConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Chunking: ChunkingConfig{
			Size:    500,
			Overlap: 100,
		},
		Indexing: IndexingConfig{
			Concurrency: 4,
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
		Resolver: ResolverConfig{
			HistoryLimit: 10,
		},
	}
}

// applyDefaults fills fields the YAML left at zero.
func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = def.Qdrant.Host
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = def.Qdrant.Port
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = def.Qdrant.Collection
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = def.Embedding.Model
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = def.Embedding.Dimension
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = def.Generation.Model
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = def.Generation.MaxTokens
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = def.Generation.Temperature
	}
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = def.Chunking.Size
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = def.Chunking.Overlap
	}
	if cfg.Indexing.Concurrency == 0 {
		cfg.Indexing.Concurrency = def.Indexing.Concurrency
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Resolver.HistoryLimit == 0 {
		cfg.Resolver.HistoryLimit = def.Resolver.HistoryLimit
	}
}

func validate(cfg *Config) error {
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return fmt.Errorf("config: chunking overlap %d must be smaller than size %d",
			cfg.Chunking.Overlap, cfg.Chunking.Size)
	}
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: embedding dimension must be positive")
	}
	return nil
}
