// Package postgres is the PostgreSQL record store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"recall/internal/domain"
)

// Config holds the connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements domain.RecordStore on the personal_data table.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates a connection pool, verifies it and ensures the schema exists.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", domain.ErrRecordStore, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", domain.ErrRecordStore, err)
	}

	s := NewWithDB(db, logger)
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("database connection established")
	return s, nil
}

// NewWithDB wraps an existing pool.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

const schema = `
	CREATE TABLE IF NOT EXISTS personal_data (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_personal_data_updated_at ON personal_data(updated_at DESC, id DESC);
`

// InitSchema creates the personal_data table if it does not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: initialize schema: %v", domain.ErrRecordStore, err)
	}
	return nil
}

// xmax is zero only for a row version created by this statement's insert branch.
const upsertQuery = `
	INSERT INTO personal_data (title, content)
	VALUES ($1, $2)
	ON CONFLICT (title) DO UPDATE
	SET content = EXCLUDED.content, updated_at = now()
	RETURNING id, (xmax = 0) AS inserted
`

func (s *Store) Upsert(ctx context.Context, title, content string) (domain.UpsertOutcome, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return 0, fmt.Errorf("%w: title and content are required", domain.ErrInvalidRecord)
	}

	var (
		id       int64
		inserted bool
	)
	if err := s.db.QueryRowContext(ctx, upsertQuery, title, content).Scan(&id, &inserted); err != nil {
		return 0, fmt.Errorf("%w: upsert: %v", domain.ErrRecordStore, err)
	}

	outcome := domain.OutcomeUpdated
	if inserted {
		outcome = domain.OutcomeInserted
	}
	s.logger.Debug("record stored", zap.Int64("id", id), zap.Stringer("outcome", outcome))
	return outcome, nil
}

const listQuery = `
	SELECT id, title, content, created_at, updated_at
	FROM personal_data
	ORDER BY updated_at DESC, id DESC
`

// ListAll runs a single statement, so the result is one consistent snapshot.
func (s *Store) ListAll(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", domain.ErrRecordStore, err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var r domain.Record
		if err := rows.Scan(&r.ID, &r.Title, &r.Content, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", domain.ErrRecordStore, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %v", domain.ErrRecordStore, err)
	}
	return out, nil
}

// Ping performs a health check on the database.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: health check: %v", domain.ErrRecordStore, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.logger.Info("closing database connection")
	return s.db.Close()
}

var _ domain.RecordStore = (*Store)(nil)
