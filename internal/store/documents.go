package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"legalrag/internal/fault"
	"legalrag/internal/logging"
)

// Document statuses.
const (
	DocStatusPending  = "PENDING"
	DocStatusIndexing = "INDEXING"
	DocStatusIndexed  = "INDEXED"
	DocStatusFailed   = "FAILED"
)

// Document is a registered knowledge-base document.
type Document struct {
	ID           string
	Filename     string
	SHA256       string
	ContentType  string
	SizeBytes    int64
	SegmentCount int
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterDocument records a new document. If a document with the same
// content hash already exists, the existing record is returned with
// duplicate=true and nothing is written.
func (s *LocalStore) RegisterDocument(ctx context.Context, filename, sha256, contentType string, sizeBytes int64) (Document, bool, error) {
	timer := logging.StartTimer(logging.CategoryStore, "RegisterDocument")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.documentByHashLocked(ctx, sha256); err == nil {
		logging.Store("Document %s is a duplicate of %s (hash %s)", filename, existing.Filename, sha256[:12])
		return existing, true, nil
	} else if fault.KindOf(err) != fault.KindDocumentNotFound {
		return Document{}, false, err
	}

	doc := Document{
		ID:          uuid.NewString(),
		Filename:    filename,
		SHA256:      sha256,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		Status:      DocStatusPending,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, sha256, content_type, size_bytes, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.SHA256, doc.ContentType, doc.SizeBytes, doc.Status,
	)
	if err != nil {
		return Document{}, false, fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to register document")
	}

	logging.Store("Registered document %s (%s, %d bytes)", doc.ID, filename, sizeBytes)
	return doc, false, nil
}

// DocumentByHash looks a document up by content hash.
func (s *LocalStore) DocumentByHash(ctx context.Context, sha256 string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentByHashLocked(ctx, sha256)
}

func (s *LocalStore) documentByHashLocked(ctx context.Context, sha256 string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, sha256, content_type, size_bytes, segment_count, status, created_at, updated_at
		FROM documents WHERE sha256 = ?`, sha256)
	return scanDocument(row)
}

// DocumentByID looks a document up by id.
func (s *LocalStore) DocumentByID(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, sha256, content_type, size_bytes, segment_count, status, created_at, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Filename, &d.SHA256, &d.ContentType, &d.SizeBytes, &d.SegmentCount, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return Document{}, fault.New(fault.KindDocumentNotFound, "document not found")
	}
	if err != nil {
		return Document{}, fault.Wrap(fault.KindVectorStoreUnavailable, err, "document lookup failed")
	}
	return d, nil
}

// ListDocuments returns all registered documents, newest first.
func (s *LocalStore) ListDocuments(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, sha256, content_type, size_bytes, segment_count, status, created_at, updated_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fault.Wrap(fault.KindVectorStoreUnavailable, err, "document list failed")
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.SHA256, &d.ContentType, &d.SizeBytes, &d.SegmentCount, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			logging.StoreDebug("Skipping unreadable document row: %v", err)
			continue
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetDocumentStatus updates a document's lifecycle status. When status is
// INDEXED the segment count is recorded as well.
func (s *LocalStore) SetDocumentStatus(ctx context.Context, id, status string, segmentCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, segment_count = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, segmentCount, id)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to update document status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindDocumentNotFound, "document %s not found", id)
	}
	return nil
}

// DeleteDocument removes a document and its segments in one transaction.
func (s *LocalStore) DeleteDocument(ctx context.Context, id string) error {
	timer := logging.StartTimer(logging.CategoryStore, "DeleteDocument")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE document_id = ?", id); err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to delete segments")
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to delete document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindDocumentNotFound, "document %s not found", id)
	}
	if err := tx.Commit(); err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to commit document delete")
	}

	logging.Store("Deleted document %s and its segments", id)
	return nil
}

// KnowledgeStats summarizes the knowledge base for status endpoints.
type KnowledgeStats struct {
	DocumentCount int64
	SegmentCount  int64
	LastUpdated   time.Time
}

// Stats returns document and segment counts plus the last index time.
func (s *LocalStore) Stats(ctx context.Context) (KnowledgeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats KnowledgeStats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&stats.DocumentCount); err != nil {
		return stats, fault.Wrap(fault.KindVectorStoreUnavailable, err, "document count failed")
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM segments").Scan(&stats.SegmentCount); err != nil {
		return stats, fault.Wrap(fault.KindVectorStoreUnavailable, err, "segment count failed")
	}
	var ts sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM segments").Scan(&ts); err == nil && ts.Valid {
		stats.LastUpdated = ts.Time
	}
	return stats, nil
}
