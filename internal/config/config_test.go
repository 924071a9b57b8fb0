package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.RAG.ChunkSize != 1000 || cfg.RAG.ChunkOverlap != 100 {
		t.Errorf("unexpected chunking defaults: %d/%d", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	if cfg.Aggregator.MaxResults != 10 || cfg.Aggregator.RRFK != 60 {
		t.Errorf("unexpected aggregator defaults: %+v", cfg.Aggregator)
	}
	if cfg.Aggregator.SimilarityThreshold != 0.85 {
		t.Errorf("similarity threshold = %v, want 0.85", cfg.Aggregator.SimilarityThreshold)
	}
	if cfg.Memory.WindowSize != 10 {
		t.Errorf("memory window = %d, want 10", cfg.Memory.WindowSize)
	}
	if cfg.Stream.QueueCapacity != 64 {
		t.Errorf("queue capacity = %d, want 64", cfg.Stream.QueueCapacity)
	}
	if cfg.Timeouts.Stream.Std() != 20*time.Minute {
		t.Errorf("stream timeout = %v, want 20m", cfg.Timeouts.Stream.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsOverlapGEChunkSize(t *testing.T) {
	cfg := Default()
	cfg.RAG.ChunkSize = 100
	cfg.RAG.ChunkOverlap = 100

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected config error when chunk_size <= chunk_overlap")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".legalrag"), 0755); err != nil {
		t.Fatal(err)
	}

	yaml := `
rag:
  chunk_size: 800
  chunk_overlap: 80
timeouts:
  embed: 10s
llm:
  default_backend: deepseek
`
	if err := os.WriteFile(filepath.Join(dir, ".legalrag", "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RAG.ChunkSize != 800 || cfg.RAG.ChunkOverlap != 80 {
		t.Errorf("file values not applied: %d/%d", cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	if cfg.Timeouts.Embed.Std() != 10*time.Second {
		t.Errorf("embed timeout = %v, want 10s", cfg.Timeouts.Embed.Std())
	}
	if cfg.LLM.DefaultBackend != "deepseek" {
		t.Errorf("default backend = %q", cfg.LLM.DefaultBackend)
	}
	// Untouched sections keep defaults.
	if cfg.Aggregator.RRFK != 60 {
		t.Errorf("rrf_k lost its default: %d", cfg.Aggregator.RRFK)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RAG.ChunkSize != 1000 {
		t.Errorf("expected defaults, got chunk_size=%d", cfg.RAG.ChunkSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEGALRAG_DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("LEGALRAG_REDIS_ADDR", "redis:6380")
	t.Setenv("LEGALRAG_REVIEW_WORKERS", "8")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.DeepSeek.APIKey != "sk-test" {
		t.Errorf("deepseek key override not applied")
	}
	if cfg.Memory.RedisAddr != "redis:6380" {
		t.Errorf("redis addr override not applied: %s", cfg.Memory.RedisAddr)
	}
	if cfg.Review.Workers != 8 {
		t.Errorf("review workers override not applied: %d", cfg.Review.Workers)
	}
}
