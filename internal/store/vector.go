package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sort"
	"time"

	"legalrag/internal/fault"
	"legalrag/internal/logging"
)

// Segment is one embedded chunk of a document.
type Segment struct {
	ID          int64
	DocumentID  string
	Ord         int
	Content     string
	ContentType string
	Source      string
	Embedding   []float32
	CreatedAt   time.Time
	Similarity  float64 // populated by SearchSegments
}

// SearchFilter narrows a vector search. Zero values mean no constraint.
type SearchFilter struct {
	ContentType string
	DocumentID  string
}

// InsertSegment stores a single embedded segment.
func (s *LocalStore) InsertSegment(ctx context.Context, seg Segment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSegmentLocked(ctx, s.db, seg)
}

// InsertSegments stores a batch of segments in one transaction. Either all
// segments land or none do.
func (s *LocalStore) InsertSegments(ctx context.Context, segs []Segment) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertSegments")
	defer timer.Stop()

	if len(segs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, seg := range segs {
		if _, err := s.insertSegmentLocked(ctx, tx, seg); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to commit segment batch")
	}

	logging.StoreDebug("Inserted %d segments for document %s", len(segs), segs[0].DocumentID)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *LocalStore) insertSegmentLocked(ctx context.Context, db execer, seg Segment) (int64, error) {
	if seg.DocumentID == "" {
		return 0, fault.New(fault.KindInvariant, "segment has no document id")
	}
	if len(seg.Embedding) == 0 {
		return 0, fault.New(fault.KindInvariant, "segment has no embedding")
	}

	// All segments in the store must share one dimensionality.
	var existing int
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(length(embedding)/4, 0) FROM segments WHERE embedding IS NOT NULL LIMIT 1",
	).Scan(&existing); err != nil && err != sql.ErrNoRows {
		return 0, fault.Wrap(fault.KindVectorStoreUnavailable, err, "dimension probe failed")
	}
	if existing > 0 && existing != len(seg.Embedding) {
		return 0, fault.New(fault.KindInvariant, "embedding dimension mismatch: store has %d, got %d", existing, len(seg.Embedding))
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO segments (document_id, ord, content, content_type, source, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, ord) DO UPDATE SET
			content = excluded.content,
			content_type = excluded.content_type,
			source = excluded.source,
			embedding = excluded.embedding`,
		seg.DocumentID, seg.Ord, seg.Content, seg.ContentType, seg.Source, encodeVector(seg.Embedding),
	)
	if err != nil {
		return 0, fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to insert segment")
	}
	return res.LastInsertId()
}

// SearchSegments returns the topK segments most similar to the query vector,
// ordered by descending cosine similarity. An empty store yields an empty
// slice, not an error.
func (s *LocalStore) SearchSegments(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]Segment, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchSegments")
	defer timer.Stop()

	if topK <= 0 {
		topK = 10
	}
	if len(query) == 0 {
		return nil, fault.New(fault.KindInvariant, "empty query vector")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectorExt {
		return s.searchSegmentsVec(ctx, query, topK, filter)
	}
	return s.searchSegmentsCosine(ctx, query, topK, filter)
}

// searchSegmentsVec pushes distance scoring into sqlite-vec.
func (s *LocalStore) searchSegmentsVec(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]Segment, error) {
	q := `
		SELECT id, document_id, ord, content, content_type, source, created_at,
		       1.0 - vec_distance_cosine(embedding, ?) AS similarity
		FROM segments
		WHERE embedding IS NOT NULL`
	args := []interface{}{encodeVector(query)}
	q, args = applySegmentFilter(q, args, filter)
	q += " ORDER BY similarity DESC LIMIT ?"
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fault.Wrap(fault.KindVectorStoreUnavailable, err, "vec search failed")
	}
	defer rows.Close()

	return scanSegmentRows(rows, true)
}

// searchSegmentsCosine fetches candidate rows and scores them in Go.
func (s *LocalStore) searchSegmentsCosine(ctx context.Context, query []float32, topK int, filter SearchFilter) ([]Segment, error) {
	q := `
		SELECT id, document_id, ord, content, content_type, source, created_at, embedding
		FROM segments
		WHERE embedding IS NOT NULL`
	args := []interface{}{}
	q, args = applySegmentFilter(q, args, filter)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fault.Wrap(fault.KindVectorStoreUnavailable, err, "segment scan failed")
	}
	defer rows.Close()

	var results []Segment
	for rows.Next() {
		var seg Segment
		var blob []byte
		if err := rows.Scan(&seg.ID, &seg.DocumentID, &seg.Ord, &seg.Content, &seg.ContentType, &seg.Source, &seg.CreatedAt, &blob); err != nil {
			logging.StoreDebug("Skipping unreadable segment row: %v", err)
			continue
		}
		vec := decodeVector(blob)
		if len(vec) != len(query) {
			continue
		}
		seg.Similarity = cosine(query, vec)
		results = append(results, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindVectorStoreUnavailable, err, "segment scan failed")
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}

	logging.StoreDebug("Cosine search returned %d of requested %d", len(results), topK)
	return results, nil
}

func applySegmentFilter(q string, args []interface{}, filter SearchFilter) (string, []interface{}) {
	if filter.ContentType != "" {
		q += " AND content_type = ?"
		args = append(args, filter.ContentType)
	}
	if filter.DocumentID != "" {
		q += " AND document_id = ?"
		args = append(args, filter.DocumentID)
	}
	return q, args
}

func scanSegmentRows(rows *sql.Rows, withSimilarity bool) ([]Segment, error) {
	var results []Segment
	for rows.Next() {
		var seg Segment
		var err error
		if withSimilarity {
			err = rows.Scan(&seg.ID, &seg.DocumentID, &seg.Ord, &seg.Content, &seg.ContentType, &seg.Source, &seg.CreatedAt, &seg.Similarity)
		} else {
			err = rows.Scan(&seg.ID, &seg.DocumentID, &seg.Ord, &seg.Content, &seg.ContentType, &seg.Source, &seg.CreatedAt)
		}
		if err != nil {
			logging.StoreDebug("Skipping unreadable segment row: %v", err)
			continue
		}
		results = append(results, seg)
	}
	return results, rows.Err()
}

// SegmentsByDocument returns a document's segments in order.
func (s *LocalStore) SegmentsByDocument(ctx context.Context, documentID string) ([]Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ord, content, content_type, source, created_at
		FROM segments WHERE document_id = ? ORDER BY ord`, documentID)
	if err != nil {
		return nil, fault.Wrap(fault.KindVectorStoreUnavailable, err, "segment fetch failed")
	}
	defer rows.Close()
	return scanSegmentRows(rows, false)
}

// DeleteSegmentsByDocument removes all segments of a document in one
// transaction and returns the number removed.
func (s *LocalStore) DeleteSegmentsByDocument(ctx context.Context, documentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM segments WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to delete segments")
	}
	n, _ := res.RowsAffected()
	logging.StoreDebug("Deleted %d segments for document %s", n, documentID)
	return n, nil
}

// SegmentCount returns the total number of stored segments.
func (s *LocalStore) SegmentCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM segments").Scan(&n); err != nil {
		return 0, fault.Wrap(fault.KindVectorStoreUnavailable, err, "segment count failed")
	}
	return n, nil
}

// LastUpdated returns the most recent segment insertion time, zero when the
// store is empty.
func (s *LocalStore) LastUpdated(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ts sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM segments").Scan(&ts); err != nil {
		return time.Time{}, fault.Wrap(fault.KindVectorStoreUnavailable, err, "last updated query failed")
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// encodeVector packs float32s as a little-endian blob, the layout sqlite-vec
// expects for float[] columns.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
