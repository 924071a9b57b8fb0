package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/semaphore"

	"legalrag/internal/config"
	"legalrag/internal/fault"
)

// mockEngine records calls and returns canned vectors.
type mockEngine struct {
	mu    sync.Mutex
	calls []string
	dims  int
}

func (m *mockEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	return make([]float32, m.dims), nil
}

func (m *mockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEngine) Dimensions() int { return m.dims }
func (m *mockEngine) Name() string    { return "mock" }

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
}

func TestGuardedEngineTruncates(t *testing.T) {
	mock := &mockEngine{dims: 4}
	g := &guardedEngine{
		inner:     mock,
		sem:       semaphore.NewWeighted(1),
		maxTokens: 10,
	}

	// 300 Han characters estimate to 100 tokens, well over the cap of 10.
	long := strings.Repeat("法", 300)
	if _, err := g.Embed(context.Background(), long); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	if got := len([]rune(mock.calls[0])); got > g.maxRunes() {
		t.Errorf("text not truncated: %d runes, budget %d", got, g.maxRunes())
	}
}

func TestGuardedEnginePassesShortTextThrough(t *testing.T) {
	mock := &mockEngine{dims: 4}
	g := &guardedEngine{
		inner:     mock,
		sem:       semaphore.NewWeighted(1),
		maxTokens: 500,
	}

	text := "第五百条 合同解除后的责任。"
	if _, err := g.Embed(context.Background(), text); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.calls[0] != text {
		t.Errorf("short text altered: %q", mock.calls[0])
	}
}

func TestGuardedEngineRespectsCancellation(t *testing.T) {
	g := &guardedEngine{
		inner:     &mockEngine{dims: 4},
		sem:       semaphore.NewWeighted(1),
		maxTokens: 500,
	}

	// Hold the only slot, then a cancelled acquire must fail fast.
	if err := g.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer g.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Embed(ctx, "text"); err == nil {
		t.Fatal("expected cancellation error while semaphore is held")
	}
}

func TestOllamaEngineEmbed(t *testing.T) {
	var gotModel atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		gotModel.Store(req.Model)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e, err := NewOllamaEngine(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatal(err)
	}
	vec, err := e.Embed(context.Background(), "合同违约责任")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("unexpected vector length %d", len(vec))
	}
	if gotModel.Load() != "nomic-embed-text" {
		t.Errorf("wrong model sent: %v", gotModel.Load())
	}
}

func TestOllamaEngineServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _ := NewOllamaEngine(srv.URL, "")
	_, err := e.Embed(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
	if fault.KindOf(err) != fault.KindEmbeddingUnavailable {
		t.Errorf("wrong fault kind: %v", fault.KindOf(err))
	}
	if !fault.Retryable(err) {
		t.Error("server errors should be retryable")
	}
}

func TestOllamaEngineBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	e, _ := NewOllamaEngine(srv.URL, "")
	_, err := e.Embed(context.Background(), "text")
	if fault.KindOf(err) != fault.KindEmbeddingBadRequest {
		t.Errorf("wrong fault kind: %v", fault.KindOf(err))
	}
	if fault.Retryable(err) {
		t.Error("bad requests must not be retried")
	}
}

func TestNewEngineRejectsUnknownProvider(t *testing.T) {
	_, err := NewEngine(config.EmbeddingConfig{Provider: "azure"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
