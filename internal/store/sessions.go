package store

import (
	"context"
	"database/sql"
	"time"

	"legalrag/internal/fault"
	"legalrag/internal/logging"
	"legalrag/internal/textproc"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// maxTitleRunes caps session titles derived from the first question.
const maxTitleRunes = 50

// Session is a persisted chat conversation.
type Session struct {
	ConversationID string
	Owner          string
	ModelType      string
	Title          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message is one turn of a conversation.
type Message struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	Metadata       string
	CreatedAt      time.Time
}

// EnsureSession creates the session if it does not exist. The title is the
// first question truncated at a rune boundary. Existing sessions keep their
// title; only updated_at moves.
func (s *LocalStore) EnsureSession(ctx context.Context, conversationID, owner, modelType, firstQuestion string) (Session, error) {
	if conversationID == "" {
		return Session{}, fault.New(fault.KindInvalidConversationID, "empty conversation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	title := textproc.TruncateAt(firstQuestion, maxTitleRunes)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (conversation_id, owner, model_type, title)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`,
		conversationID, owner, modelType, title,
	)
	if err != nil {
		return Session{}, fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to ensure session")
	}

	return s.sessionLocked(ctx, conversationID)
}

func (s *LocalStore) sessionLocked(ctx context.Context, conversationID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, owner, model_type, title, created_at, updated_at
		FROM chat_sessions WHERE conversation_id = ?`, conversationID)

	var sess Session
	err := row.Scan(&sess.ConversationID, &sess.Owner, &sess.ModelType, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return Session{}, fault.New(fault.KindSessionNotFound, "session %s not found", conversationID)
	}
	if err != nil {
		return Session{}, fault.Wrap(fault.KindVectorStoreUnavailable, err, "session lookup failed")
	}
	return sess, nil
}

// GetSession returns a session scoped to its owner. A mismatched owner gets
// FORBIDDEN, not NOT_FOUND, so callers can distinguish the two.
func (s *LocalStore) GetSession(ctx context.Context, conversationID, owner string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.sessionLocked(ctx, conversationID)
	if err != nil {
		return Session{}, err
	}
	if sess.Owner != owner {
		return Session{}, fault.New(fault.KindForbidden, "session %s belongs to another owner", conversationID)
	}
	return sess, nil
}

// ListSessions returns an owner's sessions, most recently active first.
func (s *LocalStore) ListSessions(ctx context.Context, owner string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, owner, model_type, title, created_at, updated_at
		FROM chat_sessions WHERE owner = ? ORDER BY updated_at DESC`, owner)
	if err != nil {
		return nil, fault.Wrap(fault.KindVectorStoreUnavailable, err, "session list failed")
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ConversationID, &sess.Owner, &sess.ModelType, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			logging.StoreDebug("Skipping unreadable session row: %v", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its messages, owner-scoped.
func (s *LocalStore) DeleteSession(ctx context.Context, conversationID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionLocked(ctx, conversationID)
	if err != nil {
		return err
	}
	if sess.Owner != owner {
		return fault.New(fault.KindForbidden, "session %s belongs to another owner", conversationID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_messages WHERE conversation_id = ?", conversationID); err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to delete messages")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_sessions WHERE conversation_id = ?", conversationID); err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to delete session")
	}
	return tx.Commit()
}

// AppendMessage persists one conversation turn and touches the session.
func (s *LocalStore) AppendMessage(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (conversation_id, role, content, metadata)
		VALUES (?, ?, ?, ?)`,
		msg.ConversationID, msg.Role, msg.Content, msg.Metadata,
	); err != nil {
		return fault.Wrap(fault.KindVectorStoreUnavailable, err, "failed to append message")
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET updated_at = CURRENT_TIMESTAMP WHERE conversation_id = ?",
		msg.ConversationID,
	); err != nil {
		logging.StoreDebug("Failed to touch session %s: %v", msg.ConversationID, err)
	}
	return nil
}

// RecentMessages returns the last n messages of a conversation in
// chronological order.
func (s *LocalStore) RecentMessages(ctx context.Context, conversationID string, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, COALESCE(metadata, ''), created_at
		FROM chat_messages WHERE conversation_id = ?
		ORDER BY id DESC LIMIT ?`, conversationID, n)
	if err != nil {
		return nil, fault.Wrap(fault.KindVectorStoreUnavailable, err, "message fetch failed")
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
			logging.StoreDebug("Skipping unreadable message row: %v", err)
			continue
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
