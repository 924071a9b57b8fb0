// Package knowledge feeds documents into the retrieval corpus: parse, chunk,
// embed, persist. Files can be ingested one at a time, in bulk from a
// directory, or continuously through the directory watcher.
package knowledge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"legalrag/internal/docparse"
	"legalrag/internal/embedding"
	"legalrag/internal/fault"
	"legalrag/internal/logging"
	"legalrag/internal/rag"
	"legalrag/internal/store"
	"legalrag/internal/textproc"
)

// Indexer runs the ingest pipeline for one knowledge corpus.
type Indexer struct {
	db       *store.LocalStore
	parser   *docparse.Parser
	proc     *textproc.Processor
	embedder embedding.Engine
}

// NewIndexer wires the pipeline stages.
func NewIndexer(db *store.LocalStore, parser *docparse.Parser, proc *textproc.Processor, embedder embedding.Engine) *Indexer {
	return &Indexer{db: db, parser: parser, proc: proc, embedder: embedder}
}

// IngestReader indexes one document from a stream. Content is hash-deduped:
// a byte-identical document that already indexed successfully is skipped and
// the original record returned. Returns the document and the number of
// segments written.
func (ix *Indexer) IngestReader(ctx context.Context, r io.Reader, filename string, contentType string) (store.Document, int, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "IngestReader")
	defer timer.Stop()

	data, err := io.ReadAll(r)
	if err != nil {
		return store.Document{}, 0, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	text, err := ix.parser.Parse(bytes.NewReader(data), filename, int64(len(data)))
	if err != nil {
		return store.Document{}, 0, err
	}

	if contentType == "" {
		contentType = rag.InferContentType(text)
	}

	doc, duplicate, err := ix.db.RegisterDocument(ctx, filename, hash, contentType, int64(len(data)))
	if err != nil {
		return store.Document{}, 0, err
	}
	if duplicate && doc.Status == store.DocStatusIndexed {
		logging.Knowledge("Skipping %s: identical content already indexed as %s", filename, doc.ID)
		return doc, 0, nil
	}

	if err := ix.db.SetDocumentStatus(ctx, doc.ID, store.DocStatusIndexing, 0); err != nil {
		return doc, 0, err
	}

	n, err := ix.index(ctx, doc, text, filename, contentType)
	if err != nil {
		ix.db.SetDocumentStatus(ctx, doc.ID, store.DocStatusFailed, 0)
		return doc, 0, err
	}

	if err := ix.db.SetDocumentStatus(ctx, doc.ID, store.DocStatusIndexed, n); err != nil {
		return doc, n, err
	}
	doc.Status = store.DocStatusIndexed
	doc.SegmentCount = n
	logging.Knowledge("Indexed %s: %d segments (%s)", filename, n, contentType)
	return doc, n, nil
}

// index splits, embeds, and stores the document text. A re-index replaces the
// previous segment set before inserting the new one.
func (ix *Indexer) index(ctx context.Context, doc store.Document, text, filename, contentType string) (int, error) {
	dropped, err := ix.db.DeleteSegmentsByDocument(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	if dropped > 0 {
		logging.KnowledgeDebug("Re-index of %s replaced %d segments", filename, dropped)
	}

	chunks := ix.proc.Split(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %s produced no chunks", filename)
	}

	// Batch embedding is idempotent, so transient outages get retried.
	var vecs [][]float32
	err = fault.Retry(ctx, 3, 200*time.Millisecond, func(ctx context.Context) error {
		v, err := ix.embedder.EmbedBatch(ctx, chunks)
		if err != nil {
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		return 0, err
	}

	segs := make([]store.Segment, 0, len(chunks))
	for i, chunk := range chunks {
		segs = append(segs, store.Segment{
			DocumentID:  doc.ID,
			Ord:         i,
			Content:     chunk,
			ContentType: contentType,
			Source:      filepath.Base(filename),
			Embedding:   vecs[i],
		})
	}
	if err := ix.db.InsertSegments(ctx, segs); err != nil {
		return 0, err
	}
	return len(segs), nil
}

// IngestFile indexes one file from disk.
func (ix *Indexer) IngestFile(ctx context.Context, path string) (store.Document, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Document{}, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ix.IngestReader(ctx, f, filepath.Base(path), "")
}

// Reprocess re-runs the pipeline for an already registered document from its
// stored source file, replacing its segment set atomically.
func (ix *Indexer) Reprocess(ctx context.Context, docID, path string) (int, error) {
	doc, err := ix.db.DocumentByID(ctx, docID)
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text, err := ix.parser.Parse(bytes.NewReader(data), doc.Filename, int64(len(data)))
	if err != nil {
		return 0, err
	}

	if err := ix.db.SetDocumentStatus(ctx, doc.ID, store.DocStatusIndexing, 0); err != nil {
		return 0, err
	}
	n, err := ix.index(ctx, doc, text, doc.Filename, doc.ContentType)
	if err != nil {
		ix.db.SetDocumentStatus(ctx, doc.ID, store.DocStatusFailed, 0)
		return 0, err
	}
	return n, ix.db.SetDocumentStatus(ctx, doc.ID, store.DocStatusIndexed, n)
}

// Remove deletes a document and its segments.
func (ix *Indexer) Remove(ctx context.Context, docID string) error {
	return ix.db.DeleteDocument(ctx, docID)
}

// BulkResult summarizes a directory indexing run.
type BulkResult struct {
	Indexed  int
	Skipped  int
	Failed   int
	Segments int
}

// BulkIndex walks a directory and ingests every supported file. Individual
// failures are recorded and do not stop the run.
func (ix *Indexer) BulkIndex(ctx context.Context, dir string) (BulkResult, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "BulkIndex")
	defer timer.Stop()

	var result BulkResult
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !docparse.Supported(d.Name()) {
			return nil
		}

		doc, n, ierr := ix.IngestFile(ctx, path)
		switch {
		case ierr != nil:
			logging.Get(logging.CategoryKnowledge).Warn("Failed to index %s: %v", path, ierr)
			result.Failed++
		case n == 0 && doc.Status == store.DocStatusIndexed:
			result.Skipped++
		default:
			result.Indexed++
			result.Segments += n
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	logging.Knowledge("Bulk index of %s: %d indexed, %d skipped, %d failed, %d segments",
		dir, result.Indexed, result.Skipped, result.Failed, result.Segments)
	return result, nil
}
