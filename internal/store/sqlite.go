package store

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
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

func NewSQLiteStore(dataSourceName string, logger zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dataSourceName); !isMemoryDSN(dataSourceName) && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY during ingestion
	// and keeps in-memory databases on one connection.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		path:   dataSourceName,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path is the data source the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY, -- UUID
        source_file TEXT UNIQUE NOT NULL,
        filename TEXT NOT NULL,
        file_type TEXT NOT NULL,
        public_url TEXT NOT NULL,
        file_size TEXT,
        content_hash TEXT,
        modified_at DATETIME,
        ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chunks (
        id TEXT PRIMARY KEY, -- UUID
        document_id TEXT NOT NULL,
        chunk_index INTEGER NOT NULL,
        text TEXT NOT NULL,
        page INTEGER,
        slide_number INTEGER,
        sheet TEXT,
        cell_range TEXT,
        section TEXT,
        embedding_json TEXT, -- JSON array of float32, empty when not embedded
        FOREIGN KEY (document_id) REFERENCES documents (id)
    );

    CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks (document_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// UpsertDocument stores doc and replaces all of its chunks in one transaction.
// doc.ID, doc.IngestedAt and the chunk IDs are assigned here.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *Document, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM documents WHERE source_file = ?", doc.SourceFile).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", existingID); err != nil {
			return fmt.Errorf("failed to delete previous chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", existingID); err != nil {
			return fmt.Errorf("failed to delete previous document: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("failed to look up document: %w", err)
	}

	doc.ID = uuid.NewString()
	doc.IngestedAt = time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, source_file, filename, file_type, public_url, file_size, content_hash, modified_at, ingested_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.SourceFile, doc.Filename, doc.FileType, doc.PublicURL, doc.FileSize, doc.ContentHash, doc.ModifiedAt, doc.IngestedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, chunk_index, text, page, slide_number, sheet, cell_range, section, embedding_json)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		chunk := &chunks[i]
		chunk.ID = uuid.NewString()
		chunk.DocumentID = doc.ID
		chunk.Filename = doc.Filename
		chunk.FileType = doc.FileType
		chunk.PublicURL = doc.PublicURL

		embeddingJSON := ""
		if len(chunk.Embedding) > 0 {
			b, err := json.Marshal(chunk.Embedding)
			if err != nil {
				return fmt.Errorf("failed to marshal embedding: %w", err)
			}
			embeddingJSON = string(b)
		}

		_, err = stmt.ExecContext(ctx, chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Text,
			nullInt(chunk.Page), nullInt(chunk.SlideNumber), nullString(chunk.Sheet),
			nullString(chunk.CellRange), nullString(chunk.Section), embeddingJSON)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}
	return nil
}

const documentColumns = "id, source_file, filename, file_type, public_url, file_size, content_hash, modified_at, ingested_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var fileSize, contentHash sql.NullString
	var modifiedAt sql.NullTime
	if err := row.Scan(&doc.ID, &doc.SourceFile, &doc.Filename, &doc.FileType, &doc.PublicURL,
		&fileSize, &contentHash, &modifiedAt, &doc.IngestedAt); err != nil {
		return nil, err
	}
	doc.FileSize = fileSize.String
	doc.ContentHash = contentHash.String
	doc.ModifiedAt = modifiedAt.Time
	return &doc, nil
}

func (s *SQLiteStore) GetDocumentBySource(ctx context.Context, sourceFile string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE source_file = ?", sourceFile)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM documents ORDER BY filename ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// AllChunks loads every chunk with its document's display fields, in document and
// chunk order.
func (s *SQLiteStore) AllChunks(ctx context.Context) ([]Chunk, error) {
	query := `
        SELECT c.id, c.document_id, c.chunk_index, c.text, c.page, c.slide_number, c.sheet,
               c.cell_range, c.section, c.embedding_json, d.filename, d.file_type, d.public_url
        FROM chunks c
        JOIN documents d ON d.id = c.document_id
        ORDER BY d.filename ASC, c.chunk_index ASC
    `
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		var page, slide sql.NullInt64
		var sheet, cellRange, section, embeddingJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Text, &page, &slide,
			&sheet, &cellRange, &section, &embeddingJSON, &chunk.Filename, &chunk.FileType, &chunk.PublicURL); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunk.Page = intPtr(page)
		chunk.SlideNumber = intPtr(slide)
		chunk.Sheet = stringPtr(sheet)
		chunk.CellRange = stringPtr(cellRange)
		chunk.Section = stringPtr(section)

		if embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				s.logger.Warn().Err(err).Str("chunk_id", chunk.ID).Msg("failed to unmarshal embedding, chunk is keyword-only")
				chunk.Embedding = nil
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// LastUpdated returns the most recent ingestion time, or nil for an empty collection.
func (s *SQLiteStore) LastUpdated(ctx context.Context) (*time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, "SELECT ingested_at FROM documents ORDER BY ingested_at DESC LIMIT 1").Scan(&ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last update: %w", err)
	}
	return &ts, nil
}

// DeleteDocumentBySource removes a document and its chunks, returning how many chunks
// were deleted. Unknown sources delete nothing.
func (s *SQLiteStore) DeleteDocumentBySource(ctx context.Context, sourceFile string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE document_id IN (SELECT id FROM documents WHERE source_file = ?)", sourceFile)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE source_file = ?", sourceFile); err != nil {
		return 0, fmt.Errorf("failed to delete document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return int(deleted), nil
}

// Clear drops every document and chunk in one transaction.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}

// HasUnembeddedChunks reports whether any chunk of the document was stored without an
// embedding.
func (s *SQLiteStore) HasUnembeddedChunks(ctx context.Context, documentID string) (bool, error) {
	var missing bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM chunks WHERE document_id = ? AND (embedding_json IS NULL OR embedding_json = ''))",
		documentID).Scan(&missing)
	if err != nil {
		return false, fmt.Errorf("failed to check chunk embeddings: %w", err)
	}
	return missing, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
