// Package embedding provides vector embedding generation for semantic search.
// Supports two backends: Ollama (local) and Google GenAI (cloud).
package embedding

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/semaphore"

	"legalrag/internal/config"
	"legalrag/internal/logging"
	"legalrag/internal/textproc"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// HealthChecker is an optional interface for engines that can verify
// availability before batch operations.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewEngine creates an embedding engine from configuration. The returned
// engine truncates over-long inputs and holds a shared semaphore that caps
// concurrent upstream calls.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine: provider=%s", cfg.Provider)

	var inner Engine
	var err error
	switch cfg.Provider {
	case "ollama", "":
		inner, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		inner, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	logging.Embedding("Embedding engine ready: name=%s dimensions=%d max_concurrent=%d",
		inner.Name(), inner.Dimensions(), maxConcurrent)

	return &guardedEngine{
		inner:     inner,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxTokens: maxTokens,
	}, nil
}

// guardedEngine wraps a concrete engine with input truncation and a
// concurrency cap protecting the upstream model.
type guardedEngine struct {
	inner     Engine
	sem       *semaphore.Weighted
	maxTokens int
}

// maxRunes converts the token ceiling back to a rune budget. CJK text runs
// about 3 runes per estimated token (see textproc.EstimateTokens).
func (g *guardedEngine) maxRunes() int { return g.maxTokens * 3 }

func (g *guardedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	if textproc.EstimateTokens(text) > g.maxTokens {
		text = textproc.TruncateAt(text, g.maxRunes())
		logging.EmbeddingDebug("Truncated over-long text before embedding: %d runes", len([]rune(text)))
	}
	return g.inner.Embed(ctx, text)
}

func (g *guardedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	truncated := make([]string, len(texts))
	for i, t := range texts {
		if textproc.EstimateTokens(t) > g.maxTokens {
			t = textproc.TruncateAt(t, g.maxRunes())
		}
		truncated[i] = t
	}
	return g.inner.EmbedBatch(ctx, truncated)
}

func (g *guardedEngine) Dimensions() int { return g.inner.Dimensions() }
func (g *guardedEngine) Name() string    { return g.inner.Name() }

// HealthCheck forwards to the inner engine when supported.
func (g *guardedEngine) HealthCheck(ctx context.Context) error {
	if hc, ok := g.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		aMagnitude += float64(a[i] * a[i])
		bMagnitude += float64(b[i] * b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}
	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}
