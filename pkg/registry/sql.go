package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	createDocumentsTableSQL = `
CREATE TABLE IF NOT EXISTS documents (
    id VARCHAR(255) PRIMARY KEY,
    filename VARCHAR(512) NOT NULL,
    extension VARCHAR(32) NOT NULL,
    size BIGINT NOT NULL,
    storage_path VARCHAR(1024) NOT NULL,
    status VARCHAR(32) NOT NULL,
    uploaded_at TIMESTAMP NOT NULL,
    processed_at TIMESTAMP,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at);
`

	createChunksTableSQL = `
CREATE TABLE IF NOT EXISTS document_chunks (
    id VARCHAR(255) PRIMARY KEY,
    document_id VARCHAR(255) NOT NULL,
    seq INTEGER NOT NULL,
    content TEXT NOT NULL,
    start_char INTEGER NOT NULL,
    end_char INTEGER NOT NULL,
    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON document_chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_seq ON document_chunks(document_id, seq);
`
)

// SQLRegistry is a Registry backed by a relational database
// (sqlite, mysql or postgres).
type SQLRegistry struct {
	db      *sql.DB
	dialect string
}

// NewSQLRegistry wraps an open database connection and ensures the
// schema exists.
func NewSQLRegistry(db *sql.DB, dialect string) (*SQLRegistry, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, mysql, postgres)", dialect)
	}

	r := &SQLRegistry{db: db, dialect: dialect}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	return r, nil
}

func (r *SQLRegistry) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{createDocumentsTableSQL, createChunksTableSQL} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *SQLRegistry) rebind(query string) string {
	if r.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *SQLRegistry) Get(ctx context.Context, id string) (*Document, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
SELECT id, filename, extension, size, storage_path, status, uploaded_at, processed_at, error_message
FROM documents WHERE id = ?`), id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}

	if err := r.loadChunks(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *SQLRegistry) List(ctx context.Context) ([]*Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, filename, extension, size, storage_path, status, uploaded_at, processed_at, error_message
FROM documents ORDER BY uploaded_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, doc := range docs {
		if err := r.loadChunks(ctx, doc); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var status string
	var processedAt sql.NullTime
	var errorMessage sql.NullString

	err := row.Scan(&doc.ID, &doc.Filename, &doc.Extension, &doc.Size, &doc.StoragePath,
		&status, &doc.UploadedAt, &processedAt, &errorMessage)
	if err != nil {
		return nil, err
	}

	doc.Status = Status(status)
	if processedAt.Valid {
		t := processedAt.Time
		doc.ProcessedAt = &t
	}
	doc.ErrorMessage = errorMessage.String
	return &doc, nil
}

func (r *SQLRegistry) loadChunks(ctx context.Context, doc *Document) error {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
SELECT id, content, start_char, end_char
FROM document_chunks WHERE document_id = ? ORDER BY seq`), doc.ID)
	if err != nil {
		return fmt.Errorf("failed to load chunks for %s: %w", doc.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c ChunkRef
		if err := rows.Scan(&c.ID, &c.Content, &c.StartChar, &c.EndChar); err != nil {
			return fmt.Errorf("failed to scan chunk: %w", err)
		}
		doc.Chunks = append(doc.Chunks, c)
	}
	return rows.Err()
}

func (r *SQLRegistry) Create(ctx context.Context, doc *Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.rebind(`
INSERT INTO documents (id, filename, extension, size, storage_path, status, uploaded_at, processed_at, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		doc.ID, doc.Filename, doc.Extension, doc.Size, doc.StoragePath,
		string(doc.Status), doc.UploadedAt, nullTime(doc.ProcessedAt), nullString(doc.ErrorMessage))
	if err != nil {
		return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
	}

	if err := r.insertChunks(ctx, tx, doc); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRegistry) Update(ctx context.Context, doc *Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.rebind(`
UPDATE documents SET filename = ?, extension = ?, size = ?, storage_path = ?,
    status = ?, uploaded_at = ?, processed_at = ?, error_message = ?
WHERE id = ?`),
		doc.Filename, doc.Extension, doc.Size, doc.StoragePath,
		string(doc.Status), doc.UploadedAt, nullTime(doc.ProcessedAt), nullString(doc.ErrorMessage),
		doc.ID)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", doc.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{ID: doc.ID}
	}

	// Chunk lists are replaced wholesale; they only change on reindex.
	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM document_chunks WHERE document_id = ?`), doc.ID); err != nil {
		return fmt.Errorf("failed to clear chunks for %s: %w", doc.ID, err)
	}
	if err := r.insertChunks(ctx, tx, doc); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRegistry) insertChunks(ctx context.Context, tx *sql.Tx, doc *Document) error {
	for i, c := range doc.Chunks {
		_, err := tx.ExecContext(ctx, r.rebind(`
INSERT INTO document_chunks (id, document_id, seq, content, start_char, end_char)
VALUES (?, ?, ?, ?, ?, ?)`),
			c.ID, doc.ID, i, c.Content, c.StartChar, c.EndChar)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

func (r *SQLRegistry) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM document_chunks WHERE document_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{ID: id}
	}
	return tx.Commit()
}

func (r *SQLRegistry) ClearAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks`); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return tx.Commit()
}

func (r *SQLRegistry) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
