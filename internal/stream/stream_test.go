package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSinkDeliversInOrder(t *testing.T) {
	s := NewSink(8)
	ctx := context.Background()

	go func() {
		for i := 0; i < 5; i++ {
			s.Send(ctx, Event{Name: EventContent, Data: map[string]interface{}{"i": i}})
		}
		s.Close()
	}()

	var got []Event
	for ev := range s.Events() {
		got = append(got, ev)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Data.(map[string]interface{})["i"] != i {
			t.Errorf("event %d out of order: %+v", i, ev)
		}
	}
}

func TestSinkBlocksWhenFull(t *testing.T) {
	s := NewSink(2)
	ctx := context.Background()

	s.Send(ctx, Event{Name: EventContent})
	s.Send(ctx, Event{Name: EventContent})

	blocked := make(chan struct{})
	go func() {
		s.Send(ctx, Event{Name: EventContent}) // must block on full queue
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatal("send did not block on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	<-s.Events() // make room
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("send did not unblock after a read")
	}
}

func TestSinkSendAfterClose(t *testing.T) {
	s := NewSink(2)
	s.Close()
	if s.Send(context.Background(), Event{Name: EventDone}) {
		t.Error("send after close must report failure")
	}
	s.Close() // idempotent
}

func TestSinkSendCancelled(t *testing.T) {
	s := NewSink(1)
	ctx, cancel := context.WithCancel(context.Background())
	s.Send(ctx, Event{Name: EventContent}) // fill the queue
	cancel()
	if s.Send(ctx, Event{Name: EventContent}) {
		t.Error("cancelled send must report failure")
	}
}

func TestWriterWireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.WriteEvent(Event{Name: EventStart, Data: map[string]int{"sourceCount": 3}}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEvent(Event{Name: EventContent, Data: map[string]string{"type": "content", "content": "根据"}}); err != nil {
		t.Fatal(err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: start\ndata: {\"sourceCount\":3}\n\n") {
		t.Errorf("start event malformed:\n%s", body)
	}
	if !strings.Contains(body, "event: content\ndata: ") {
		t.Errorf("content event malformed:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("wrong content type: %s", ct)
	}
}

func TestPumpDrainsUntilClose(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	if err != nil {
		t.Fatal(err)
	}
	s := NewSink(4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx := context.Background()
		s.Send(ctx, Event{Name: EventStart, Data: map[string]int{"sourceCount": 0}})
		s.Send(ctx, Event{Name: EventContent, Data: map[string]string{"content": "hi"}})
		s.Send(ctx, Event{Name: EventDone, Data: map[string]string{"type": "done"}})
		s.Close()
	}()

	if err := Pump(context.Background(), w, s); err != nil {
		t.Fatalf("Pump failed: %v", err)
	}
	wg.Wait()

	body := rec.Body.String()
	for _, name := range []string{"event: start", "event: content", "event: done"} {
		if !strings.Contains(body, name) {
			t.Errorf("missing %q in output:\n%s", name, body)
		}
	}
	// Exactly one terminal event.
	if strings.Count(body, "event: done") != 1 {
		t.Errorf("expected exactly one done event:\n%s", body)
	}
}

func TestPumpStopsOnDisconnect(t *testing.T) {
	rec := httptest.NewRecorder()
	w, _ := NewWriter(rec)
	s := NewSink(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Pump(ctx, w, s); err == nil {
		t.Error("expected context error on disconnect")
	}
}
