// Package memory keeps per-conversation chat windows in Redis. Each model
// backend gets its own window for a conversation, so switching models
// mid-conversation never leaks another backend's context.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"legalrag/internal/logging"
)

// DefaultWindow is the number of messages retained per conversation window.
const DefaultWindow = 10

// keyPrefix namespaces all chat windows in Redis.
const keyPrefix = "chat:memory"

// Turn is one stored message of a window.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Windows manages sliding chat windows backed by Redis lists.
type Windows struct {
	rdb    *redis.Client
	window int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Windows store. window <= 0 uses DefaultWindow.
func New(rdb *redis.Client, window int) *Windows {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Windows{
		rdb:    rdb,
		window: window,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Window returns the configured window size.
func (w *Windows) Window() int { return w.window }

func key(model, conversationID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, model, conversationID)
}

// lockFor returns the per-key mutex, creating it on first use. Append is
// push-then-trim; the mutex keeps concurrent appends to one window from
// interleaving those two steps.
func (w *Windows) lockFor(k string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[k]
	if !ok {
		l = &sync.Mutex{}
		w.locks[k] = l
	}
	return l
}

// Append adds a turn to the window, evicting the oldest when full.
func (w *Windows) Append(ctx context.Context, model, conversationID string, turn Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	k := key(model, conversationID)
	l := w.lockFor(k)
	l.Lock()
	defer l.Unlock()

	if err := w.rdb.RPush(ctx, k, payload).Err(); err != nil {
		return fmt.Errorf("failed to push turn: %w", err)
	}
	if err := w.rdb.LTrim(ctx, k, int64(-w.window), -1).Err(); err != nil {
		return fmt.Errorf("failed to trim window: %w", err)
	}

	logging.MemoryDebug("Appended %s turn to %s", turn.Role, k)
	return nil
}

// History returns the window's turns in chronological order.
func (w *Windows) History(ctx context.Context, model, conversationID string) ([]Turn, error) {
	raw, err := w.rdb.LRange(ctx, key(model, conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read window: %w", err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			logging.MemoryDebug("Skipping unreadable turn in %s: %v", conversationID, err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Count returns the number of turns currently held for the window.
func (w *Windows) Count(ctx context.Context, model, conversationID string) (int64, error) {
	return w.rdb.LLen(ctx, key(model, conversationID)).Result()
}

// Exists reports whether the window holds any turns.
func (w *Windows) Exists(ctx context.Context, model, conversationID string) (bool, error) {
	n, err := w.rdb.Exists(ctx, key(model, conversationID)).Result()
	return n > 0, err
}

// Clear drops one model's window for a conversation.
func (w *Windows) Clear(ctx context.Context, model, conversationID string) error {
	if err := w.rdb.Del(ctx, key(model, conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to clear window: %w", err)
	}
	logging.Memory("Cleared window %s/%s", model, conversationID)
	return nil
}

// ClearAll drops every model's window for a conversation.
func (w *Windows) ClearAll(ctx context.Context, conversationID string) error {
	pattern := fmt.Sprintf("%s:*:%s", keyPrefix, conversationID)

	var cursor uint64
	for {
		keys, next, err := w.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan windows: %w", err)
		}
		if len(keys) > 0 {
			if err := w.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete windows: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	logging.Memory("Cleared all windows for conversation %s", conversationID)
	return nil
}
