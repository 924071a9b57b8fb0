// Package config loads and validates legalrag configuration from
// <workspace>/.legalrag/config.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all legalrag configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM backends
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval pipeline
	RAG RAGConfig `yaml:"rag"`

	// Content aggregation
	Aggregator AggregatorConfig `yaml:"aggregator"`

	// Chat memory windows
	Memory MemoryConfig `yaml:"memory"`

	// SSE streaming
	Stream StreamConfig `yaml:"stream"`

	// Per-operation deadlines
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// Contract review workers
	Review ReviewConfig `yaml:"review"`

	// Persistence
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// RAGConfig configures chunking and retrieval.
type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`    // chunk window, chars (default 1000)
	ChunkOverlap int `yaml:"chunk_overlap"` // overlap, chars (default 100)
	TopK         int `yaml:"top_k"`         // retriever depth (default 10)
}

// AggregatorConfig configures content aggregation.
type AggregatorConfig struct {
	MaxResults          int     `yaml:"max_results"`          // cap after re-rank (default 10)
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // dedup cutoff (default 0.85)
	RRFK                int     `yaml:"rrf_k"`                // RRF constant (default 60)
}

// MemoryConfig configures per-(conversation, model) windows.
type MemoryConfig struct {
	WindowSize int    `yaml:"window_size"` // messages (default 10)
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
}

// StreamConfig configures SSE delivery.
type StreamConfig struct {
	QueueCapacity int `yaml:"queue_capacity"` // backpressure queue (default 64)
}

// ReviewConfig configures the contract-review engine.
type ReviewConfig struct {
	Workers     int   `yaml:"workers"`        // background analysis workers (default 4)
	MaxFileSize int64 `yaml:"max_file_size"`  // upload limit, bytes (default 50MB)
	RetrievalK  int   `yaml:"retrieval_k"`    // law passages per chunk (default 5)
}

// StorageConfig configures local persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	UploadDir    string `yaml:"upload_dir"`
	KnowledgeDir string `yaml:"knowledge_dir"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Name:    "legalrag",
		Version: "0.1.0",
		LLM:     DefaultLLMConfig(),
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			MaxTokens:      500,
			MaxConcurrent:  8,
		},
		RAG: RAGConfig{
			ChunkSize:    1000,
			ChunkOverlap: 100,
			TopK:         10,
		},
		Aggregator: AggregatorConfig{
			MaxResults:          10,
			SimilarityThreshold: 0.85,
			RRFK:                60,
		},
		Memory: MemoryConfig{
			WindowSize: 10,
			RedisAddr:  "localhost:6379",
		},
		Stream: StreamConfig{
			QueueCapacity: 64,
		},
		Timeouts: DefaultTimeouts(),
		Review: ReviewConfig{
			Workers:     4,
			MaxFileSize: 50 << 20,
			RetrievalK:  5,
		},
		Storage: StorageConfig{
			DatabasePath: ".legalrag/legalrag.db",
			UploadDir:    ".legalrag/uploads",
			KnowledgeDir: ".legalrag/knowledge",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads the config file from the workspace, falling back to defaults
// when absent, then applies environment overrides and validates.
func Load(workspace string) (Config, error) {
	// .env is optional; ignore a missing file like manifold does.
	_ = godotenv.Load(filepath.Join(workspace, ".env"))

	cfg := Default()

	path := filepath.Join(workspace, ".legalrag", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv applies LEGALRAG_* environment overrides for secrets and
// deployment-specific knobs.
func (c *Config) applyEnv() {
	if v := os.Getenv("LEGALRAG_DEEPSEEK_API_KEY"); v != "" {
		c.LLM.DeepSeek.APIKey = v
	}
	if v := os.Getenv("LEGALRAG_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("LEGALRAG_OLLAMA_ENDPOINT"); v != "" {
		c.LLM.Ollama.Endpoint = v
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("LEGALRAG_REDIS_ADDR"); v != "" {
		c.Memory.RedisAddr = v
	}
	if v := os.Getenv("LEGALRAG_REVIEW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Review.Workers = n
		}
	}
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= c.RAG.ChunkOverlap {
		return fmt.Errorf("config error: rag.chunk_size (%d) must exceed rag.chunk_overlap (%d)",
			c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.Aggregator.SimilarityThreshold <= 0 || c.Aggregator.SimilarityThreshold > 1 {
		return fmt.Errorf("config error: aggregator.similarity_threshold must be in (0,1]")
	}
	if c.Memory.WindowSize <= 0 {
		return fmt.Errorf("config error: memory.window_size must be positive")
	}
	if c.Stream.QueueCapacity <= 0 {
		return fmt.Errorf("config error: stream.queue_capacity must be positive")
	}
	if c.Review.Workers <= 0 {
		return fmt.Errorf("config error: review.workers must be positive")
	}
	return nil
}

// RequestWorkers returns the bounded handler pool size (2x CPU).
func RequestWorkers() int {
	return 2 * runtime.NumCPU()
}
