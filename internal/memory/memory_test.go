package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestWindows(t *testing.T, window int) *Windows {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, window)
}

func TestAppendAndHistory(t *testing.T) {
	w := newTestWindows(t, 10)
	ctx := context.Background()

	if err := w.Append(ctx, "OLLAMA", "conv-1", Turn{Role: "user", Content: "合同违约怎么办"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Append(ctx, "OLLAMA", "conv-1", Turn{Role: "assistant", Content: "根据民法典第五百七十七条"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	turns, err := w.History(ctx, "OLLAMA", "conv-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("turns out of order: %+v", turns)
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := newTestWindows(t, 4)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := w.Append(ctx, "OLLAMA", "conv-1", Turn{Role: "user", Content: fmt.Sprintf("msg-%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	turns, err := w.History(ctx, "OLLAMA", "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 4 {
		t.Fatalf("expected window of 4, got %d", len(turns))
	}
	if turns[0].Content != "msg-6" || turns[3].Content != "msg-9" {
		t.Errorf("wrong retained turns: %+v", turns)
	}
}

func TestModelIsolation(t *testing.T) {
	w := newTestWindows(t, 10)
	ctx := context.Background()

	w.Append(ctx, "OLLAMA", "conv-1", Turn{Role: "user", Content: "a"})
	w.Append(ctx, "DEEPSEEK", "conv-1", Turn{Role: "user", Content: "b"})

	ollama, _ := w.History(ctx, "OLLAMA", "conv-1")
	deepseek, _ := w.History(ctx, "DEEPSEEK", "conv-1")
	if len(ollama) != 1 || len(deepseek) != 1 {
		t.Fatalf("windows bled across models: %d / %d", len(ollama), len(deepseek))
	}
	if ollama[0].Content != "a" || deepseek[0].Content != "b" {
		t.Errorf("wrong contents: %q / %q", ollama[0].Content, deepseek[0].Content)
	}
}

func TestClearSingleModel(t *testing.T) {
	w := newTestWindows(t, 10)
	ctx := context.Background()

	w.Append(ctx, "OLLAMA", "conv-1", Turn{Role: "user", Content: "a"})
	w.Append(ctx, "DEEPSEEK", "conv-1", Turn{Role: "user", Content: "b"})

	if err := w.Clear(ctx, "OLLAMA", "conv-1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := w.Exists(ctx, "OLLAMA", "conv-1"); ok {
		t.Error("OLLAMA window survived Clear")
	}
	if ok, _ := w.Exists(ctx, "DEEPSEEK", "conv-1"); !ok {
		t.Error("DEEPSEEK window wrongly cleared")
	}
}

func TestClearAllModels(t *testing.T) {
	w := newTestWindows(t, 10)
	ctx := context.Background()

	for _, model := range []string{"OLLAMA", "DEEPSEEK", "LANGCHAIN4J"} {
		w.Append(ctx, model, "conv-1", Turn{Role: "user", Content: "x"})
	}
	w.Append(ctx, "OLLAMA", "conv-2", Turn{Role: "user", Content: "y"})

	if err := w.ClearAll(ctx, "conv-1"); err != nil {
		t.Fatal(err)
	}
	for _, model := range []string{"OLLAMA", "DEEPSEEK", "LANGCHAIN4J"} {
		if ok, _ := w.Exists(ctx, model, "conv-1"); ok {
			t.Errorf("%s window for conv-1 survived ClearAll", model)
		}
	}
	if ok, _ := w.Exists(ctx, "OLLAMA", "conv-2"); !ok {
		t.Error("unrelated conversation was cleared")
	}
}

func TestConcurrentAppendsKeepWindowBound(t *testing.T) {
	w := newTestWindows(t, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Append(ctx, "OLLAMA", "conv-1", Turn{Role: "user", Content: fmt.Sprintf("m%d", i)})
		}(i)
	}
	wg.Wait()

	n, err := w.Count(ctx, "OLLAMA", "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("window overflowed under concurrency: %d", n)
	}
}
