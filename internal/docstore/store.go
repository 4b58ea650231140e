// Package docstore defines the document-store contract
// (get/put/query/delete, partition-keyed by user) and a default
// SQLite-backed implementation, so the core runtime is runnable
// standalone without a real distributed document database. This is
// the reference implementation the instruction matcher and other
// persistence-needing components use when nothing else is wired.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Document is one record in a container, partitioned by PK (a user id
// in every core use case).
type Document struct {
	ID   string
	PK   string
	Data map[string]any
}

// Store is the document-store contract the core consumes: every
// component depending on persistence takes a Store rather than a
// concrete database.
type Store interface {
	Get(ctx context.Context, container, id string) (Document, error)
	Upsert(ctx context.Context, container string, doc Document) error
	Delete(ctx context.Context, container, id string) error
	// Query runs a WHERE-clause fragment (e.g. "pk = ?") against
	// container, parameterized by args, and returns matching documents.
	Query(ctx context.Context, container, where string, args ...any) ([]Document, error)
}

// SQLiteStore is the default Store implementation: every container
// shares one table, keyed by (container, id), with an indexed pk
// column for per-user queries and a JSON blob for the document body.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and migrates) a SQLite-backed document store at dbPath.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("docstore: open %q: %w", dbPath, err)
	}
	return OpenDB(db)
}

// OpenDB migrates and wraps an already-open database handle. Lets
// tests supply a handle opened with the pure-Go sqlite driver.
func OpenDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("docstore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		container TEXT NOT NULL,
		id        TEXT NOT NULL,
		pk        TEXT NOT NULL,
		data      TEXT NOT NULL,
		PRIMARY KEY (container, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_pk ON documents(container, pk);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get fetches one document by id within container.
func (s *SQLiteStore) Get(ctx context.Context, container, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pk, data FROM documents WHERE container = ? AND id = ?`, container, id)
	return scanDocument(row)
}

// Upsert inserts or replaces doc within container.
func (s *SQLiteStore) Upsert(ctx context.Context, container string, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("docstore: document id must not be empty")
	}
	data, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("docstore: marshal document %q: %w", doc.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (container, id, pk, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(container, id) DO UPDATE SET pk = excluded.pk, data = excluded.data`,
		container, doc.ID, doc.PK, string(data),
	)
	if err != nil {
		return fmt.Errorf("docstore: upsert %q/%q: %w", container, doc.ID, err)
	}
	return nil
}

// Delete removes a document by id within container. Deleting an id
// that doesn't exist is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, container, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE container = ? AND id = ?`, container, id)
	if err != nil {
		return fmt.Errorf("docstore: delete %q/%q: %w", container, id, err)
	}
	return nil
}

// Query runs a WHERE-clause fragment against container's documents,
// e.g. Query(ctx, "instructions", "pk = ?", userID).
func (s *SQLiteStore) Query(ctx context.Context, container, where string, args ...any) ([]Document, error) {
	query := `SELECT id, pk, data FROM documents WHERE container = ?`
	queryArgs := append([]any{container}, args...)
	if where != "" {
		query += " AND (" + where + ")"
	}
	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("docstore: query %q: %w", container, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var data string
	if err := row.Scan(&doc.ID, &doc.PK, &data); err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal([]byte(data), &doc.Data); err != nil {
		return Document{}, fmt.Errorf("docstore: unmarshal document %q: %w", doc.ID, err)
	}
	return doc, nil
}
