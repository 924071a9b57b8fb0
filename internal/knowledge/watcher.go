package knowledge

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"legalrag/internal/docparse"
	"legalrag/internal/logging"
)

// Watcher monitors a knowledge directory and indexes files as they appear or
// change. Rapid saves are debounced so one editor write burst triggers one
// ingest.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	indexer     *Indexer
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for the stats command.
type WatcherStats struct {
	Indexed   int
	Failures  int
	LastPath  string
	LastEvent time.Time
}

// NewWatcher builds a watcher over dir.
func NewWatcher(dir string, indexer *Indexer) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		indexer:     indexer,
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		logging.Get(logging.CategoryKnowledge).Warn("Failed to create knowledge dir %s: %v", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	logging.Knowledge("Watching knowledge directory: %s", w.dir)

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryKnowledge).Error("Error closing watcher: %v", err)
	}
	logging.Knowledge("Knowledge watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryKnowledge).Error("Watcher error: %v", err)

		case <-debounceTicker.C:
			w.processSettled(ctx)
		}
	}
}

// handleEvent records a create or write for later debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !docparse.Supported(event.Name) {
		return
	}

	logging.KnowledgeDebug("Watch event %s for %s", event.Op, event.Name)
	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.stats.LastPath = event.Name
	w.stats.LastEvent = time.Now()
	w.mu.Unlock()
}

// processSettled ingests files whose events have settled past the debounce
// window.
func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		if _, err := os.Stat(path); err != nil {
			continue // deleted before settling
		}
		_, n, err := w.indexer.IngestFile(ctx, path)
		w.mu.Lock()
		if err != nil {
			w.stats.Failures++
			logging.Get(logging.CategoryKnowledge).Warn("Failed to index %s: %v", path, err)
		} else if n > 0 {
			w.stats.Indexed++
		}
		w.mu.Unlock()
	}
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Running reports whether the event loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
