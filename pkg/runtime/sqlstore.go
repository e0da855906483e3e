package runtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const createConfigurationsTableSQL = `
CREATE TABLE IF NOT EXISTS configurations (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    owner VARCHAR(255) NOT NULL,
    llm_kind VARCHAR(50) NOT NULL,
    llm_params TEXT NOT NULL,
    embedding_kind VARCHAR(50) NOT NULL,
    embedding_params TEXT NOT NULL,
    vector_kind VARCHAR(50) NOT NULL,
    vector_params TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_configurations_owner ON configurations(owner);
`

// SQLConfigStore is a ConfigStore backed by a relational database.
// Provider params are stored as JSON text.
type SQLConfigStore struct {
	db      *sql.DB
	dialect string
}

func NewSQLConfigStore(db *sql.DB, dialect string) (*SQLConfigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, mysql, postgres)", dialect)
	}

	s := &SQLConfigStore{db: db, dialect: dialect}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, createConfigurationsTableSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize configurations schema: %w", err)
	}
	return s, nil
}

func (s *SQLConfigStore) rebind(query string) string {
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

const configColumns = `id, name, owner, llm_kind, llm_params, embedding_kind, embedding_params,
vector_kind, vector_params, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfiguration(row rowScanner) (*Configuration, error) {
	var cfg Configuration
	var llmParams, embedParams, vectorParams string
	err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.Owner,
		&cfg.LLM.Kind, &llmParams,
		&cfg.Embedding.Kind, &embedParams,
		&cfg.Vector.Kind, &vectorParams,
		&cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw  string
		dest *map[string]any
	}{
		{llmParams, &cfg.LLM.Params},
		{embedParams, &cfg.Embedding.Params},
		{vectorParams, &cfg.Vector.Params},
	} {
		if pair.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(pair.raw), pair.dest); err != nil {
			return nil, fmt.Errorf("failed to decode provider params: %w", err)
		}
	}
	return &cfg, nil
}

func marshalParams(params map[string]any) (string, error) {
	if params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode provider params: %w", err)
	}
	return string(data), nil
}

func (s *SQLConfigStore) Get(ctx context.Context, id string) (*Configuration, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+configColumns+` FROM configurations WHERE id = ?`), id)
	cfg, err := scanConfiguration(row)
	if err == sql.ErrNoRows {
		return nil, &ConfigNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration %s: %w", id, err)
	}
	return cfg, nil
}

func (s *SQLConfigStore) List(ctx context.Context, owner string) ([]*Configuration, error) {
	query := `SELECT ` + configColumns + ` FROM configurations`
	args := []any{}
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	defer rows.Close()

	configs := []*Configuration{}
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan configuration: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *SQLConfigStore) Create(ctx context.Context, cfg *Configuration) error {
	llmParams, err := marshalParams(cfg.LLM.Params)
	if err != nil {
		return err
	}
	embedParams, err := marshalParams(cfg.Embedding.Params)
	if err != nil {
		return err
	}
	vectorParams, err := marshalParams(cfg.Vector.Params)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO configurations (`+configColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cfg.ID, cfg.Name, cfg.Owner,
		cfg.LLM.Kind, llmParams,
		cfg.Embedding.Kind, embedParams,
		cfg.Vector.Kind, vectorParams,
		cfg.Active, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create configuration %s: %w", cfg.ID, err)
	}
	return nil
}

func (s *SQLConfigStore) Update(ctx context.Context, cfg *Configuration) error {
	llmParams, err := marshalParams(cfg.LLM.Params)
	if err != nil {
		return err
	}
	embedParams, err := marshalParams(cfg.Embedding.Params)
	if err != nil {
		return err
	}
	vectorParams, err := marshalParams(cfg.Vector.Params)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE configurations SET
    name = ?, owner = ?,
    llm_kind = ?, llm_params = ?,
    embedding_kind = ?, embedding_params = ?,
    vector_kind = ?, vector_params = ?,
    active = ?, updated_at = ?
WHERE id = ?`),
		cfg.Name, cfg.Owner,
		cfg.LLM.Kind, llmParams,
		cfg.Embedding.Kind, embedParams,
		cfg.Vector.Kind, vectorParams,
		cfg.Active, cfg.UpdatedAt, cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to update configuration %s: %w", cfg.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ConfigNotFoundError{ID: cfg.ID}
	}
	return nil
}

func (s *SQLConfigStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM configurations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete configuration %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ConfigNotFoundError{ID: id}
	}
	return nil
}

// Activate flips the owner's active flag to the named configuration in a
// single transaction.
func (s *SQLConfigStore) Activate(ctx context.Context, id, owner string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE configurations SET active = ? WHERE owner = ?`), false, owner); err != nil {
		return fmt.Errorf("failed to deactivate configurations for %s: %w", owner, err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE configurations SET active = ?, updated_at = ? WHERE id = ? AND owner = ?`),
		true, time.Now().UTC(), id, owner)
	if err != nil {
		return fmt.Errorf("failed to activate configuration %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ConfigNotFoundError{ID: id}
	}
	return tx.Commit()
}

func (s *SQLConfigStore) GetActive(ctx context.Context, owner string) (*Configuration, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+configColumns+` FROM configurations WHERE owner = ? AND active = ?`), owner, true)
	cfg, err := scanConfiguration(row)
	if err == sql.ErrNoRows {
		return nil, &NoActiveConfigurationError{Owner: owner}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active configuration for %s: %w", owner, err)
	}
	return cfg, nil
}
