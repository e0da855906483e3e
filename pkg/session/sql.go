package session

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

	createMessagesTableSQL = `
CREATE TABLE IF NOT EXISTS session_messages (
    session_id VARCHAR(255) NOT NULL,
    seq INTEGER NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, seq),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id);
`
)

// SQLStore is a Store backed by a relational database.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an open database connection and ensures the schema
// exists.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, mysql, postgres)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{createSessionsTableSQL, createMessagesTableSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
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

func (s *SQLStore) Append(ctx context.Context, sessionID string, msg Message) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM sessions WHERE id = ?`), sessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)`),
			sessionID, now, now)
	} else {
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET updated_at = ? WHERE id = ?`), now, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sessionID, err)
	}

	var seq int
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(seq), -1) + 1 FROM session_messages WHERE session_id = ?`),
		sessionID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO session_messages (session_id, seq, role, content, created_at)
VALUES (?, ?, ?, ?, ?)`),
		sessionID, seq, msg.Role, msg.Content, createdAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) History(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT role, content, created_at FROM session_messages
WHERE session_id = ? ORDER BY seq`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", sessionID, err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLStore) Clear(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM session_messages WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to clear messages for %s: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	return tx.Commit()
}
