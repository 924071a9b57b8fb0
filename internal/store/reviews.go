package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"legalrag/internal/fault"
	"legalrag/internal/logging"
)

// Review statuses. Transitions: PENDING -> PROCESSING -> COMPLETED | FAILED.
const (
	ReviewPending    = "PENDING"
	ReviewProcessing = "PROCESSING"
	ReviewCompleted  = "COMPLETED"
	ReviewFailed     = "FAILED"
)

// Review is a contract review job. CompletedAt is zero until the review
// reaches a terminal state.
type Review struct {
	ID                string
	Owner             string
	Filename          string
	FileHash          string
	Size              int64
	StoredPath        string
	Status            string
	Progress          int
	RiskLevel         string
	CompletenessScore int
	Summary           string
	ErrorMsg          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       time.Time
}

// RiskClause is one flagged clause of a completed review. PositionStart and
// PositionEnd are rune offsets into the contract text; -1 when the clause
// excerpt could not be located.
type RiskClause struct {
	ID            int64
	ReviewID      string
	Ord           int
	ClauseText    string
	Description   string
	RiskLevel     string
	RiskType      string
	Suggestion    string
	LegalBasis    string
	PositionStart int
	PositionEnd   int
}

// CreateReview registers a new review job in PENDING state.
func (s *LocalStore) CreateReview(ctx context.Context, owner, filename string) (Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Review{
		ID:       uuid.NewString(),
		Owner:    owner,
		Filename: filename,
		Status:   ReviewPending,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contract_reviews (id, owner, filename, review_status)
		VALUES (?, ?, ?, ?)`,
		r.ID, r.Owner, r.Filename, r.Status,
	)
	if err != nil {
		return Review{}, fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to create review")
	}

	logging.Review("Created review %s for %s", r.ID, filename)
	return r, nil
}

// SetReviewUpload records the stored contract file: its content hash, byte
// size, and on-disk path.
func (s *LocalStore) SetReviewUpload(ctx context.Context, id, fileHash string, size int64, storedPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE contract_reviews
		SET file_hash = ?, size_bytes = ?, stored_path = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, fileHash, size, storedPath, id)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to record upload")
	}
	return nil
}

// ReviewUploadCount returns how many reviews the owner has submitted with the
// same content hash. Duplicate uploads are allowed; callers log them.
func (s *LocalStore) ReviewUploadCount(ctx context.Context, owner, fileHash string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contract_reviews WHERE owner = ? AND file_hash = ?`,
		owner, fileHash).Scan(&n)
	if err != nil {
		return 0, fault.Wrap(fault.KindVectorStoreUnavailable, err, "upload count failed")
	}
	return n, nil
}

// ClaimReview transitions a review from PENDING to PROCESSING. The conditional
// UPDATE makes the claim atomic: a second caller gets ALREADY_CLAIMED instead
// of running the analysis twice.
func (s *LocalStore) ClaimReview(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE contract_reviews
		SET review_status = ?, progress = 0, error_msg = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND review_status = ?`,
		ReviewProcessing, id, ReviewPending,
	)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to claim review")
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return nil
	}

	// Distinguish a missing review from one already claimed.
	if _, err := s.reviewLocked(ctx, id); err != nil {
		return err
	}
	return fault.New(fault.KindAlreadyClaimed, "review %s is not PENDING", id)
}

// UpdateReviewProgress records pipeline progress for a PROCESSING review.
func (s *LocalStore) UpdateReviewProgress(ctx context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE contract_reviews SET progress = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND review_status = ?`, progress, id, ReviewProcessing)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to update progress")
	}
	return nil
}

// CompleteReview writes the final result and all risk clauses in one
// transaction, so readers never observe a COMPLETED review without its
// clauses.
func (s *LocalStore) CompleteReview(ctx context.Context, id, riskLevel, summary string, completeness int, clauses []RiskClause) error {
	timer := logging.StartTimer(logging.CategoryStore, "CompleteReview")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE contract_reviews
		SET review_status = ?, progress = 100, risk_level = ?, completeness_score = ?,
		    summary = ?, updated_at = CURRENT_TIMESTAMP, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND review_status = ?`,
		ReviewCompleted, riskLevel, completeness, summary, id, ReviewProcessing,
	)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to complete review")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindInvariant, "review %s is not PROCESSING", id)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM risk_clauses WHERE review_id = ?", id); err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to clear old clauses")
	}
	for i, c := range clauses {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO risk_clauses (review_id, ord, clause_text, description, risk_level,
			                          risk_type, suggestion, legal_basis, position_start, position_end)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, c.ClauseText, c.Description, c.RiskLevel, c.RiskType, c.Suggestion,
			c.LegalBasis, c.PositionStart, c.PositionEnd,
		); err != nil {
			return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to insert risk clause")
		}
	}
	if err := tx.Commit(); err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to commit review result")
	}

	logging.Review("Review %s completed: risk=%s clauses=%d completeness=%d", id, riskLevel, len(clauses), completeness)
	return nil
}

// FailReview terminates a review with an error message.
func (s *LocalStore) FailReview(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE contract_reviews
		SET review_status = ?, error_msg = ?, updated_at = CURRENT_TIMESTAMP, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, ReviewFailed, errMsg, id)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to mark review failed")
	}
	logging.Review("Review %s failed: %s", id, errMsg)
	return nil
}

// ResetReview returns a review to PENDING for reprocessing and drops the
// clauses of the previous run.
func (s *LocalStore) ResetReview(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE contract_reviews
		SET review_status = ?, progress = 0, error_msg = '', updated_at = CURRENT_TIMESTAMP,
		    completed_at = NULL
		WHERE id = ?`, ReviewPending, id)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to reset review")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.KindReviewNotFound, "review %s not found", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM risk_clauses WHERE review_id = ?", id); err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to drop stale clauses")
	}
	return tx.Commit()
}

// GetReview returns a review scoped to its owner.
func (s *LocalStore) GetReview(ctx context.Context, id, owner string) (Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := s.reviewLocked(ctx, id)
	if err != nil {
		return Review{}, err
	}
	if r.Owner != owner {
		return Review{}, fault.New(fault.KindForbidden, "review %s belongs to another owner", id)
	}
	return r, nil
}

// ReviewByID returns a review without owner scoping. Background workers use
// this; request handlers go through GetReview.
func (s *LocalStore) ReviewByID(ctx context.Context, id string) (Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reviewLocked(ctx, id)
}

func (s *LocalStore) reviewLocked(ctx context.Context, id string) (Review, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, filename, file_hash, size_bytes, stored_path, review_status,
		       progress, risk_level, completeness_score, summary, error_msg,
		       created_at, updated_at, completed_at
		FROM contract_reviews WHERE id = ?`, id)

	var r Review
	var completed sql.NullTime
	err := row.Scan(&r.ID, &r.Owner, &r.Filename, &r.FileHash, &r.Size, &r.StoredPath,
		&r.Status, &r.Progress, &r.RiskLevel, &r.CompletenessScore, &r.Summary, &r.ErrorMsg,
		&r.CreatedAt, &r.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return Review{}, fault.New(fault.KindReviewNotFound, "review %s not found", id)
	}
	if err != nil {
		return Review{}, fault.Wrap(fault.KindVectorStoreUnavailable, err, "review lookup failed")
	}
	if completed.Valid {
		r.CompletedAt = completed.Time
	}
	return r, nil
}

// ListReviews pages through an owner's reviews, newest first.
func (s *LocalStore) ListReviews(ctx context.Context, owner string, limit, offset int) ([]Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, filename, file_hash, size_bytes, stored_path, review_status,
		       progress, risk_level, completeness_score, summary, error_msg,
		       created_at, updated_at, completed_at
		FROM contract_reviews WHERE owner = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, owner, limit, offset)
	if err != nil {
		return nil, fault.Wrap(fault.KindVectorStoreUnavailable, err, "review list failed")
	}
	defer rows.Close()

	var reviews []Review
	for rows.Next() {
		var r Review
		var completed sql.NullTime
		if err := rows.Scan(&r.ID, &r.Owner, &r.Filename, &r.FileHash, &r.Size, &r.StoredPath,
			&r.Status, &r.Progress, &r.RiskLevel, &r.CompletenessScore, &r.Summary, &r.ErrorMsg,
			&r.CreatedAt, &r.UpdatedAt, &completed); err != nil {
			logging.StoreDebug("Skipping unreadable review row: %v", err)
			continue
		}
		if completed.Valid {
			r.CompletedAt = completed.Time
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// RiskClauses returns a review's flagged clauses in order.
func (s *LocalStore) RiskClauses(ctx context.Context, reviewID string) ([]RiskClause, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, review_id, ord, clause_text, description, risk_level, risk_type,
		       suggestion, legal_basis, position_start, position_end
		FROM risk_clauses WHERE review_id = ? ORDER BY ord`, reviewID)
	if err != nil {
		return nil, fault.Wrap(fault.KindVectorStoreUnavailable, err, "risk clause fetch failed")
	}
	defer rows.Close()

	var clauses []RiskClause
	for rows.Next() {
		var c RiskClause
		if err := rows.Scan(&c.ID, &c.ReviewID, &c.Ord, &c.ClauseText, &c.Description,
			&c.RiskLevel, &c.RiskType, &c.Suggestion, &c.LegalBasis,
			&c.PositionStart, &c.PositionEnd); err != nil {
			logging.StoreDebug("Skipping unreadable clause row: %v", err)
			continue
		}
		clauses = append(clauses, c)
	}
	return clauses, rows.Err()
}
