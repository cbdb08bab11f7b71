package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds connection parameters for PostgresStore,
// grounded on the teacher's sessions.CockroachConfig shape.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig mirrors the teacher's DefaultCockroachConfig
// defaults, scaled to a plain Postgres document table.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Database:        "voicegateway",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements DocumentStore on a single JSONB document
// table, keyed by conversation id and partitioned by subject_id,
// grounded on the teacher's sessions.CockroachStore.
type PostgresStore struct {
	db         *sql.DB
	stmtCreate *sql.Stmt
}

// NewPostgresStore opens a connection pool and prepares the insert
// statement used by CreateOne.
func NewPostgresStore(dsn string, cfg *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening conversation log store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging conversation log store: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO conversation_documents (id, subject_id, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing conversation log insert: %w", err)
	}

	return &PostgresStore{db: db, stmtCreate: stmt}, nil
}

// CreateOne writes doc once. A conflicting id is silently ignored
// rather than updated, per §4.7's "never update an existing document".
func (s *PostgresStore) CreateOne(ctx context.Context, id, subjectID string, doc []byte) error {
	_, err := s.stmtCreate.ExecContext(ctx, id, subjectID, doc, time.Now())
	if err != nil {
		return fmt.Errorf("creating conversation document %s: %w", id, err)
	}
	return nil
}

// Close releases the prepared statement and connection pool.
func (s *PostgresStore) Close() error {
	if s.stmtCreate != nil {
		_ = s.stmtCreate.Close()
	}
	return s.db.Close()
}

// schema is the conversation log store's table DDL, applied by Migrate
// (cmd/gateway calls it at every startup).
const schema = `
CREATE TABLE IF NOT EXISTS conversation_documents (
	id         TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	document   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS conversation_documents_subject_id_idx
	ON conversation_documents (subject_id);
`

// Migrate applies the store's schema. Safe to call repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating conversation log store: %w", err)
	}
	return nil
}
