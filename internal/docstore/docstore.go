// Package docstore provides the SQLite-backed document table of record for
// the knowledge base. A document row survives regardless of vector index
// availability: the row is the source of truth, the vector point derived from
// it is a rebuildable cache. The embedding lifecycle of every row is tracked
// in its status column so dual-store inconsistency is detectable and
// repairable rather than silently lost.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a referenced document id does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// ErrValidation is returned when a caller supplies malformed input
// (empty title or content). Never retried.
var ErrValidation = errors.New("docstore: invalid document")

// Status is the embedding lifecycle state of a document.
type Status string

const (
	// StatusPending marks a document whose embedding is deferred.
	StatusPending Status = "pending"
	// StatusProcessing marks a document whose embed+upsert is in flight.
	StatusProcessing Status = "processing"
	// StatusCompleted marks a document with a live vector point.
	StatusCompleted Status = "completed"
	// StatusFailed marks a document whose embed or upsert failed; the error
	// is recorded alongside. Only an explicit retry or edit leaves this state.
	StatusFailed Status = "failed"
)

// Document is one row of the knowledge-base table of record.
type Document struct {
	// ID is the opaque unique identifier, stable for the document's lifetime.
	// It doubles as the vector index point id.
	ID string
	// Title is a short required label.
	Title string
	// Content is the full text body; the unit that gets embedded.
	Content string
	// Source is a free-form provenance tag (e.g. "manual", a filename).
	Source string
	// BotID scopes the document to one tenant; empty means global/shared.
	BotID string
	// EmbeddingStatus is the lifecycle state of the derived vector point.
	EmbeddingStatus Status
	// EmbeddingError is the last failure message; set only when failed.
	EmbeddingError string
	// Metadata is an open key/value bag merged into the vector payload at
	// embed time so search hits carry provenance without a relational join.
	Metadata map[string]any
	// CreatedAt and UpdatedAt are server-assigned timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Patch describes a partial document update. Nil fields are left unchanged.
type Patch struct {
	Title    *string
	Content  *string
	Source   *string
	Metadata map[string]any
}

// Filter narrows list and count operations. The zero value matches all rows.
type Filter struct {
	// BotID restricts to a single tenant when non-empty.
	BotID string
}

// Store persists documents in a local SQLite database. Per-row operations
// rely on SQLite's row-level semantics for serialization; the store holds no
// in-process locks.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the knowledge-base database.
// It resolves to ~/.omnikb/documents.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("docstore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".omnikb")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("docstore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "documents.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id               TEXT PRIMARY KEY,
    title            TEXT NOT NULL,
    content          TEXT NOT NULL,
    source           TEXT NOT NULL DEFAULT 'manual',
    bot_id           TEXT NOT NULL DEFAULT '',
    embedding_status TEXT NOT NULL CHECK(embedding_status IN ('pending','processing','completed','failed')),
    embedding_error  TEXT NOT NULL DEFAULT '',
    metadata         TEXT NOT NULL DEFAULT '{}',
    created_at       INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_bot_created
    ON documents (bot_id, created_at);
CREATE INDEX IF NOT EXISTS idx_documents_title
    ON documents (title);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	return nil
}

// Create inserts a new document and returns it with server-assigned fields
// populated. An empty ID is replaced with a fresh UUID; an empty status
// defaults to StatusPending. Empty title or content fails with ErrValidation.
func (s *Store) Create(ctx context.Context, doc Document) (Document, error) {
	if strings.TrimSpace(doc.Title) == "" {
		return Document{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return Document{}, fmt.Errorf("%w: content is required", ErrValidation)
	}

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Source == "" {
		doc.Source = "manual"
	}
	if doc.EmbeddingStatus == "" {
		doc.EmbeddingStatus = StatusPending
	}

	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return Document{}, err
	}

	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.EmbeddingError = ""

	const q = `
INSERT INTO documents (id, title, content, source, bot_id, embedding_status, embedding_error, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, '', ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		doc.ID, doc.Title, doc.Content, doc.Source, doc.BotID,
		string(doc.EmbeddingStatus), meta, now.Unix(), now.Unix(),
	)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: create: %w", err)
	}

	return doc, nil
}

// Get returns the document with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	const q = `
SELECT id, title, content, source, bot_id, embedding_status, embedding_error, metadata, created_at, updated_at
FROM   documents WHERE id = ?`
	return s.scanOne(s.db.QueryRowContext(ctx, q, id))
}

// Update applies a partial patch to the document with the given id and
// returns the updated row. Fails with ErrNotFound for an unknown id. The
// store does not cascade re-embedding when content changes; that is the
// ingestion orchestrator's responsibility.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}

	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return Document{}, fmt.Errorf("%w: title is required", ErrValidation)
		}
		doc.Title = *patch.Title
	}
	if patch.Content != nil {
		if strings.TrimSpace(*patch.Content) == "" {
			return Document{}, fmt.Errorf("%w: content is required", ErrValidation)
		}
		doc.Content = *patch.Content
	}
	if patch.Source != nil {
		doc.Source = *patch.Source
	}
	if patch.Metadata != nil {
		doc.Metadata = patch.Metadata
	}

	meta, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return Document{}, err
	}

	doc.UpdatedAt = time.Now()

	const q = `
UPDATE documents SET title = ?, content = ?, source = ?, metadata = ?, updated_at = ?
WHERE  id = ?`
	res, err := s.db.ExecContext(ctx, q, doc.Title, doc.Content, doc.Source, meta, doc.UpdatedAt.Unix(), id)
	if err != nil {
		return Document{}, fmt.Errorf("docstore: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Document{}, ErrNotFound
	}

	return doc, nil
}

// SetStatus performs an atomic status transition. The embedding error is
// recorded when the new status is failed and cleared on any transition away
// from failed. Fails with ErrNotFound for an unknown id.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, embedErr string) error {
	if status != StatusFailed {
		embedErr = ""
	}

	const q = `
UPDATE documents SET embedding_status = ?, embedding_error = ?, updated_at = ?
WHERE  id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), embedErr, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("docstore: set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the document with the given id. Deleting a non-existent id
// is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("docstore: delete: %w", err)
	}
	return nil
}

// DeleteByTenant removes every document scoped to the given tenant.
// Idempotent: removing zero rows is not an error.
func (s *Store) DeleteByTenant(ctx context.Context, botID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE bot_id = ?`, botID); err != nil {
		return fmt.Errorf("docstore: delete by tenant: %w", err)
	}
	return nil
}

// List returns documents matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Document, error) {
	q := `
SELECT id, title, content, source, bot_id, embedding_status, embedding_error, metadata, created_at, updated_at
FROM   documents`
	var args []any
	if filter.BotID != "" {
		q += ` WHERE bot_id = ?`
		args = append(args, filter.BotID)
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: list rows: %w", err)
	}
	return docs, nil
}

// Count returns the number of documents matching the filter.
func (s *Store) Count(ctx context.Context, filter Filter) (int64, error) {
	q := `SELECT COUNT(*) FROM documents`
	var args []any
	if filter.BotID != "" {
		q += ` WHERE bot_id = ?`
		args = append(args, filter.BotID)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("docstore: count: %w", err)
	}
	return n, nil
}

// Ping verifies the database connection; used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("docstore: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("docstore: close: %w", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanOne scans a single-row query result, mapping sql.ErrNoRows to ErrNotFound.
func (s *Store) scanOne(row *sql.Row) (Document, error) {
	doc, err := s.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// scanRow scans one documents row into a Document.
func (s *Store) scanRow(sc scanner) (Document, error) {
	var (
		doc              Document
		status, meta     string
		created, updated int64
	)
	err := sc.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Source, &doc.BotID,
		&status, &doc.EmbeddingError, &meta, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("docstore: scan: %w", err)
	}

	doc.EmbeddingStatus = Status(status)
	doc.CreatedAt = time.Unix(created, 0)
	doc.UpdatedAt = time.Unix(updated, 0)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return Document{}, fmt.Errorf("docstore: metadata decode for %s: %w", doc.ID, err)
		}
	}
	return doc, nil
}

// marshalMetadata encodes the metadata bag as JSON for storage.
func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("docstore: metadata encode: %w", err)
	}
	return string(b), nil
}
