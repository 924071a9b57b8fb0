// Package store persists documents, vector segments, chat sessions, and
// contract reviews in a single SQLite database. All access goes through
// LocalStore, which serializes writes behind a mutex; SQLite handles
// durability via WAL.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"legalrag/internal/logging"
)

// LocalStore is the SQLite-backed persistence layer.
type LocalStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	store := &LocalStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	store.detectVecExtension()
	if store.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; using in-process cosine scoring")
	}

	logging.Store("LocalStore initialization complete")
	return store, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	documentsTable := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		sha256 TEXT NOT NULL UNIQUE,
		content_type TEXT NOT NULL DEFAULT 'GENERAL',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		segment_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_documents_sha256 ON documents(sha256);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	`

	segmentsTable := `
	CREATE TABLE IF NOT EXISTS segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		ord INTEGER NOT NULL,
		content TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'GENERAL',
		source TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(document_id, ord),
		FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_segments_document ON segments(document_id);
	CREATE INDEX IF NOT EXISTS idx_segments_content_type ON segments(content_type);
	`

	sessionsTable := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		conversation_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL DEFAULT '',
		model_type TEXT NOT NULL DEFAULT 'OLLAMA',
		title TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON chat_sessions(owner);
	`

	messagesTable := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(conversation_id) REFERENCES chat_sessions(conversation_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON chat_messages(conversation_id);
	`

	reviewsTable := `
	CREATE TABLE IF NOT EXISTS contract_reviews (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL,
		file_hash TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		stored_path TEXT NOT NULL DEFAULT '',
		review_status TEXT NOT NULL DEFAULT 'PENDING',
		progress INTEGER NOT NULL DEFAULT 0,
		risk_level TEXT NOT NULL DEFAULT '',
		completeness_score INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		error_msg TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_owner ON contract_reviews(owner);
	CREATE INDEX IF NOT EXISTS idx_reviews_status ON contract_reviews(review_status);
	CREATE INDEX IF NOT EXISTS idx_reviews_owner_hash ON contract_reviews(owner, file_hash);
	`

	riskClausesTable := `
	CREATE TABLE IF NOT EXISTS risk_clauses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		review_id TEXT NOT NULL,
		ord INTEGER NOT NULL,
		clause_text TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL,
		risk_type TEXT NOT NULL DEFAULT '',
		suggestion TEXT NOT NULL DEFAULT '',
		legal_basis TEXT NOT NULL DEFAULT '',
		position_start INTEGER NOT NULL DEFAULT -1,
		position_end INTEGER NOT NULL DEFAULT -1,
		FOREIGN KEY(review_id) REFERENCES contract_reviews(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_risk_clauses_review ON risk_clauses(review_id);
	`

	for _, schema := range []string{documentsTable, segmentsTable, sessionsTable, messagesTable, reviewsTable, riskClausesTable} {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

// detectVecExtension probes for the sqlite-vec extension.
func (s *LocalStore) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		s.vectorExt = true
		logging.StoreDebug("sqlite-vec version: %s", version)
	}
}

// VectorExtAvailable reports whether sqlite-vec distance functions can be used.
func (s *LocalStore) VectorExtAvailable() bool {
	return s.vectorExt
}

// DB exposes the raw handle for maintenance tooling.
func (s *LocalStore) DB() *sql.DB { return s.db }

// Close flushes WAL and closes the database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logging.StoreDebug("WAL checkpoint on close failed: %v", err)
	}
	return s.db.Close()
}
