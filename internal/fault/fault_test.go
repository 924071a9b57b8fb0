package fault

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	err := New(KindTooLarge, "45MB upload")
	if KindOf(err) != KindTooLarge {
		t.Errorf("KindOf = %v, want %v", KindOf(err), KindTooLarge)
	}
	wrapped := Wrap(KindParseFailure, errors.New("zip: not a valid zip file"), "contract.docx")
	if KindOf(wrapped) != KindParseFailure {
		t.Errorf("KindOf wrapped = %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindInvariant {
		t.Error("unclassified errors must report INVARIANT")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(KindEmbeddingUnavailable, "ollama down")) {
		t.Error("embedding outage must be retryable")
	}
	if Retryable(New(KindEmptyInput, "blank")) {
		t.Error("input errors must not be retryable")
	}
	if Retryable(errors.New("plain")) {
		t.Error("unclassified errors must not be retryable")
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return New(KindModelUnavailable, "warming up")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		return New(KindEmbeddingBadRequest, "text too long")
	})
	if !Is(err, KindEmbeddingBadRequest) {
		t.Fatalf("wrong error: %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error retried %d times", calls)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		return New(KindVectorStoreUnavailable, "locked")
	})
	if !Is(err, KindVectorStoreUnavailable) {
		t.Fatalf("wrong error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, 5, time.Minute, func(ctx context.Context) error {
		calls++
		return New(KindModelTimeout, "deadline")
	})
	if !Is(err, KindModelTimeout) {
		t.Fatalf("last error must surface, got %v", err)
	}
	if calls != 1 {
		t.Errorf("cancelled context must stop the loop, got %d calls", calls)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{New(KindEmptyInput, "blank"), 400},
		{New(KindUnauthenticated, "no token"), 401},
		{New(KindReviewNotFound, "r-1"), 404},
		{New(KindModelUnavailable, "down"), 503},
		{errors.New("plain"), 500},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
