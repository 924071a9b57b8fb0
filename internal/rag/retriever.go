package rag

import (
	"context"
	"time"

	"legalrag/internal/embedding"
	"legalrag/internal/fault"
	"legalrag/internal/logging"
	"legalrag/internal/store"
	"legalrag/internal/textproc"
)

// Transient upstream failures are retried; both ops are idempotent.
const (
	upstreamAttempts = 3
	retryBaseDelay   = 200 * time.Millisecond
)

// Retriever embeds a query and searches one corpus.
type Retriever struct {
	name          string
	engine        embedding.Engine
	db            *store.LocalStore
	topK          int
	filter        store.SearchFilter
	embedTimeout  time.Duration
	searchTimeout time.Duration
}

// NewRetriever builds a retriever over the given corpus filter.
// topK <= 0 defaults to 10.
func NewRetriever(name string, engine embedding.Engine, db *store.LocalStore, topK int, filter store.SearchFilter) *Retriever {
	if topK <= 0 {
		topK = 10
	}
	return &Retriever{
		name:          name,
		engine:        engine,
		db:            db,
		topK:          topK,
		filter:        filter,
		embedTimeout:  30 * time.Second,
		searchTimeout: 5 * time.Second,
	}
}

// WithTimeouts overrides the per-attempt embed and search deadlines.
// Non-positive values keep the defaults.
func (r *Retriever) WithTimeouts(embed, search time.Duration) *Retriever {
	if embed > 0 {
		r.embedTimeout = embed
	}
	if search > 0 {
		r.searchTimeout = search
	}
	return r
}

func (r *Retriever) Name() string { return r.name }

// Retrieve embeds the query and returns ranked contents. An empty corpus
// yields an empty list, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Content, error) {
	timer := logging.StartTimer(logging.CategoryRAG, "Retrieve")
	defer timer.Stop()

	if query == "" {
		return nil, fault.New(fault.KindEmptyInput, "empty retrieval query")
	}

	var vec []float32
	err := fault.Retry(ctx, upstreamAttempts, retryBaseDelay, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.embedTimeout)
		defer cancel()
		v, err := r.engine.Embed(ctx, query)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	var segs []store.Segment
	err = fault.Retry(ctx, upstreamAttempts, retryBaseDelay, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.searchTimeout)
		defer cancel()
		s, err := r.db.SearchSegments(ctx, vec, r.topK, r.filter)
		if err != nil {
			return err
		}
		segs = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	contents := make([]Content, 0, len(segs))
	for _, seg := range segs {
		contents = append(contents, Content{
			Text:        seg.Content,
			Source:      textproc.CleanSource(map[string]interface{}{"source": seg.Source}),
			ContentType: seg.ContentType,
			Score:       seg.Similarity,
		})
	}

	logging.RAGDebug("Retriever %s: query %q returned %d contents", r.name, query, len(contents))
	return contents, nil
}
