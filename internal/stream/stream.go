// Package stream carries server-sent events from producers to HTTP clients
// through a bounded queue. Producers block when the client reads slowly;
// tokens are never dropped.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"legalrag/internal/logging"
)

// DefaultQueueCapacity bounds the in-flight events per stream.
const DefaultQueueCapacity = 64

// Chat stream event names.
const (
	EventStart   = "start"
	EventContent = "content"
	EventDone    = "done"
	EventError   = "error"
)

// Contract review stream event names.
const (
	EventConnected = "connected"
	EventInfo      = "info"
	EventProgress  = "progress"
	EventResult    = "result"
	EventComplete  = "complete"
	EventTimeout   = "timeout"
)

// Event is one named SSE event with a JSON payload.
type Event struct {
	Name string
	Data interface{}
}

// Sink queues events for a single stream. Send blocks when the queue is
// full. Close is idempotent; events sent after Close are dropped.
type Sink struct {
	ch     chan Event
	closed chan struct{}
	once   sync.Once
}

// NewSink creates a sink. capacity <= 0 uses DefaultQueueCapacity.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Sink{
		ch:     make(chan Event, capacity),
		closed: make(chan struct{}),
	}
}

// Send queues an event, blocking while the queue is full. Returns false when
// the sink is closed or the context is cancelled.
func (s *Sink) Send(ctx context.Context, ev Event) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close marks the end of the stream. Queued events remain readable.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}

// Events exposes the queue for the writer side.
func (s *Sink) Events() <-chan Event { return s.ch }

// Writer renders events to an http.ResponseWriter in SSE wire format.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter prepares an SSE response. Returns an error when the underlying
// writer cannot flush, since unflushed SSE is useless to clients.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent emits one event in "event: name\ndata: json\n\n" form.
func (w *Writer) WriteEvent(ev Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.Name, err)
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", ev.Name, payload); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// Pump drains a sink into the writer until the sink closes or the client
// disconnects. Returns the first write error, nil on clean end.
func Pump(ctx context.Context, w *Writer, sink *Sink) error {
	for {
		select {
		case ev, ok := <-sink.Events():
			if !ok {
				return nil
			}
			if err := w.WriteEvent(ev); err != nil {
				logging.StreamDebug("Client write failed, stopping pump: %v", err)
				return err
			}
		case <-ctx.Done():
			logging.StreamDebug("Client disconnected, stopping pump")
			return ctx.Err()
		}
	}
}
