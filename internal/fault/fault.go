// Package fault defines the error taxonomy shared by the chat dispatcher and
// the contract-review engine. Components wrap their failures in a Kind so the
// outer layers can decide on retries and response shaping without string
// matching.
package fault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation policy.
type Kind string

const (
	// Input errors - rejected, never retried.
	KindEmptyInput            Kind = "EMPTY_INPUT"
	KindUnsupportedFormat     Kind = "UNSUPPORTED_FORMAT"
	KindTooLarge              Kind = "TOO_LARGE"
	KindInvalidConversationID Kind = "INVALID_CONVERSATION_ID"
	KindInvalidModelType      Kind = "INVALID_MODEL_TYPE"

	// Auth errors.
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"

	// Not-found errors.
	KindSessionNotFound  Kind = "SESSION_NOT_FOUND"
	KindReviewNotFound   Kind = "REVIEW_NOT_FOUND"
	KindDocumentNotFound Kind = "DOCUMENT_NOT_FOUND"

	// Upstream errors - retried with backoff for idempotent operations.
	KindEmbeddingUnavailable   Kind = "EMBEDDING_UNAVAILABLE"
	KindEmbeddingBadRequest    Kind = "EMBEDDING_BAD_REQUEST"
	KindModelUnavailable       Kind = "MODEL_UNAVAILABLE"
	KindModelTimeout           Kind = "MODEL_TIMEOUT"
	KindVectorStoreUnavailable Kind = "VECTOR_STORE_UNAVAILABLE"

	// Pipeline errors - terminate the review as FAILED.
	KindParseFailure          Kind = "PARSE_FAILURE"
	KindLLMResponseUnparsable Kind = "LLM_RESPONSE_UNPARSEABLE"
	KindAlreadyClaimed        Kind = "ALREADY_CLAIMED"

	// Internal errors.
	KindConfig    Kind = "CONFIG_ERROR"
	KindInvariant Kind = "INVARIANT"
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fault with no underlying cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a kind.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// KindInvariant.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInvariant
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// Retryable reports whether the operation that produced err may be retried.
// Only transient upstream failures of idempotent operations qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindEmbeddingUnavailable, KindModelUnavailable, KindModelTimeout, KindVectorStoreUnavailable:
		return true
	}
	return false
}

// Retry runs op up to attempts times while its error is Retryable, doubling
// delay between tries. A non-retryable error, a cancelled context, or the
// last attempt ends the loop with the most recent error.
func Retry(ctx context.Context, attempts int, delay time.Duration, op func(context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !Retryable(err) || i == attempts-1 {
			return err
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return err
		}
	}
	return err
}

// HTTPStatus maps a kind to the REST status code used by non-stream
// endpoints. Stream flows convert faults into terminal error events instead.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindEmptyInput, KindUnsupportedFormat, KindTooLarge, KindInvalidConversationID, KindInvalidModelType:
		return 400
	case KindUnauthenticated:
		return 401
	case KindForbidden:
		return 403
	case KindSessionNotFound, KindReviewNotFound, KindDocumentNotFound:
		return 404
	case KindEmbeddingUnavailable, KindModelUnavailable, KindModelTimeout, KindVectorStoreUnavailable:
		return 503
	default:
		return 500
	}
}
