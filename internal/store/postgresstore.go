package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultSessionTable = "session_store"

// PostgresStoreConfig captures configuration required to initialize a Postgres-backed store.
type PostgresStoreConfig struct {
	DSN    string
	Schema string
	Table  string
}

// PostgresStore keeps one row per user holding the same bytes FileStore would write.
type PostgresStore struct {
	db    *sql.DB
	cfg   PostgresStoreConfig
	codec *Codec
}

// NewPostgresStore establishes a connection to PostgreSQL.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig, codec *Codec) (*PostgresStore, error) {
	trimmedDSN := strings.TrimSpace(cfg.DSN)
	if trimmedDSN == "" {
		return nil, fmt.Errorf("postgres store: DSN is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("postgres store: codec is required")
	}
	cfg.DSN = trimmedDSN
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = defaultSessionTable
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping database: %w", err)
	}
	return &PostgresStore{db: db, cfg: cfg, codec: codec}, nil
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the session table (and schema when provided).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store: not initialized")
	}
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres store: create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.fullTableName())); err != nil {
		return fmt.Errorf("postgres store: create session table: %w", err)
	}
	return nil
}

// Load reads the user's row.
func (s *PostgresStore) Load(ctx context.Context, userID string) (*Record, error) {
	id, err := SanitizeUserID(userID)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT content FROM %s WHERE id = $1", s.fullTableName())
	var content string
	if err = s.db.QueryRowContext(ctx, query, id).Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres store: load %s: %w", id, err)
	}
	rec, err := s.codec.Decode([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("postgres store: load %s: %w", id, err)
	}
	return rec, nil
}

// Save upserts the user's row.
func (s *PostgresStore) Save(ctx context.Context, userID string, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("postgres store: record is nil")
	}
	id, err := SanitizeUserID(userID)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data, err := s.codec.Encode(rec)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, s.fullTableName())
	if _, err = s.db.ExecContext(ctx, query, id, string(data)); err != nil {
		return fmt.Errorf("postgres store: upsert %s: %w", id, err)
	}
	return nil
}

// Delete removes the user's row.
func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	id, err := SanitizeUserID(userID)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.fullTableName())
	if _, err = s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) fullTableName() string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(s.cfg.Table)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(s.cfg.Table)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
