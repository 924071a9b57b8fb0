package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"legalrag/internal/fault"
)

func ollamaStreamHandler(chunks []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			enc.Encode(ollamaChatResponse{Message: ollamaChatMessage{Role: "assistant", Content: c}})
			flusher.Flush()
		}
		enc.Encode(ollamaChatResponse{Done: true})
	}
}

func TestOllamaChatBlocking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("blocking chat must not request streaming")
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: "assistant", Content: "违约方应当承担违约责任。"},
			Done:    true,
		})
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "qwen2.5:7b", 0)
	got, err := b.Chat(context.Background(), "违约怎么办", Options{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got != "违约方应当承担违约责任。" {
		t.Errorf("wrong answer: %q", got)
	}
}

func TestOllamaStreamChat(t *testing.T) {
	chunks := []string{"根据", "民法典", ",违约方", "应当承担责任。"}
	srv := httptest.NewServer(ollamaStreamHandler(chunks))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "", 0)
	contentChan, errorChan := b.StreamChat(context.Background(), "q", Options{})

	var got []string
	for c := range contentChan {
		got = append(got, c)
	}
	if err, ok := <-errorChan; ok && err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if strings.Join(got, "") != strings.Join(chunks, "") {
		t.Errorf("stream content mismatch: %v", got)
	}
	// Order preserved.
	for i := range got {
		if got[i] != chunks[i] {
			t.Errorf("chunk %d out of order: %q", i, got[i])
		}
	}
}

func TestOllamaStreamErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"}}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "", 0)
	contentChan, errorChan := b.StreamChat(context.Background(), "q", Options{})

	var got []string
	for c := range contentChan {
		got = append(got, c)
	}
	err := <-errorChan
	if fault.KindOf(err) != fault.KindModelUnavailable {
		t.Errorf("expected MODEL_UNAVAILABLE, got %v", err)
	}
	if len(got) != 1 || got[0] != "partial" {
		t.Errorf("pre-error content lost: %v", got)
	}
}

func TestOllamaChatServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately unreachable

	b := NewOllamaBackend(srv.URL, "", time.Second)
	_, err := b.Chat(context.Background(), "q", Options{})
	if fault.KindOf(err) != fault.KindModelUnavailable {
		t.Errorf("expected MODEL_UNAVAILABLE, got %v", err)
	}
	if b.Available(context.Background()) {
		t.Error("dead server reported available")
	}
}

func TestOllamaModelOverride(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		json.NewEncoder(w).Encode(ollamaChatResponse{Done: true})
	}))
	defer srv.Close()

	b := NewOllamaBackend(srv.URL, "qwen2.5:7b", 0)
	b.Chat(context.Background(), "q", Options{Model: "llama3:8b"})
	if gotModel != "llama3:8b" {
		t.Errorf("model override ignored: %q", gotModel)
	}
}
