// Package store persists the document registry and the knowledge graph in
// SQLite, with sqlite-vec for entity name recall.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/akg/resolve"
)

func init() {
	sqlite_vec.Auto()
}

// Document statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Document represents a row in the documents table.
type Document struct {
	ID              int64  `json:"id"`
	Path            string `json:"path"`
	Filename        string `json:"filename"`
	Format          string `json:"format"`
	ContentHash     string `json:"content_hash"`
	Title           string `json:"title,omitempty"`
	DocumentType    string `json:"document_type,omitempty"`
	DocumentContext string `json:"document_context,omitempty"`
	Status          string `json:"status"`
	Metadata        string `json:"metadata,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// Embedder turns entity names into vectors. llm.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store wraps the SQLite database for all akg persistence. It implements
// resolve.GraphStore.
type Store struct {
	db           *sql.DB
	embeddingDim int
	embedder     Embedder
	sim          resolve.Similarity
	log          *slog.Logger
}

var _ resolve.GraphStore = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithEmbedder enables vector recall in SearchSimilarEntities.
func WithEmbedder(e Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// WithSimilarity sets the scorer applied to search candidates.
func WithSimilarity(sim resolve.Similarity) Option {
	return func(s *Store) { s.sim = sim }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int, opts ...Option) (*Store, error) {
	if embeddingDim <= 0 {
		embeddingDim = 1024
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{
		db:           db,
		embeddingDim: embeddingDim,
		sim:          resolve.SequenceRatio,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Document operations ---

// UpsertDocument inserts or updates a document record. Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	// RETURNING reports the row's id on both the insert and the update
	// path; LastInsertId is connection-wide and goes stale on update.
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (path, filename, format, content_hash, title, document_type, document_context, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			content_hash = excluded.content_hash,
			title = excluded.title,
			document_type = excluded.document_type,
			document_context = excluded.document_context,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, doc.Path, doc.Filename, doc.Format, doc.ContentHash, doc.Title, doc.DocumentType,
		doc.DocumentContext, doc.Status, nullString(doc.Metadata)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting document %s: %w", doc.Path, err)
	}
	return id, nil
}

const documentColumns = `id, path, filename, format, content_hash, COALESCE(title, ''), COALESCE(document_type, ''),
	COALESCE(document_context, ''), status, metadata, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	d := &Document{}
	var metadata sql.NullString
	if err := row.Scan(&d.ID, &d.Path, &d.Filename, &d.Format, &d.ContentHash,
		&d.Title, &d.DocumentType, &d.DocumentContext, &d.Status,
		&metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Metadata = metadata.String
	return d, nil
}

// GetDocumentByPath retrieves a document by its file path. It returns
// sql.ErrNoRows when the path is unknown.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE path = ?", path))
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates just the status field.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

// DeleteDocument removes a document record. Graph nodes it contributed
// are shared across documents and stay.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	return err
}

// DBStats holds row counts across tables.
type DBStats struct {
	Documents     int `json:"documents"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Embeddings    int `json:"embeddings"`
}

// DBStats returns counts of documents, entities, relationships and embeddings.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM entities", &stats.Entities},
		{"SELECT COUNT(*) FROM relationships", &stats.Relationships},
		{"SELECT COUNT(*) FROM vec_entities", &stats.Embeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(", ?", n-1)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
