package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// PostgresConfig controls the Postgres connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres implements monitor.RecordStore on a pgx connection pool.
type Postgres struct {
	pool pgxPool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS bids (
	id BIGSERIAL PRIMARY KEY,
	unique_id TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	publish_date TEXT,
	source TEXT,
	content TEXT,
	purchaser TEXT,
	notified BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_bids_notified ON bids (notified)`

// NewPostgres connects a pool and ensures the schema exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Postgres{pool: pool}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily for
// testing with pgxmock).
func NewPostgresWithPool(pool pgxPool) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Exists reports whether a record with the given unique ID is stored.
func (s *Postgres) Exists(ctx context.Context, uniqueID string) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bids WHERE unique_id = $1`, uniqueID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return count > 0, nil
}

// Save inserts the record unless its unique ID is already present.
func (s *Postgres) Save(ctx context.Context, rec monitor.Record) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO bids (unique_id, title, url, publish_date, source, content, purchaser)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (unique_id) DO NOTHING`,
		rec.UniqueID(), rec.Title, rec.URL, rec.PublishDate, rec.Source, rec.Content, rec.Purchaser,
	)
	if err != nil {
		return false, fmt.Errorf("insert bid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Unnotified returns up to limit records awaiting dispatch, oldest first.
func (s *Postgres) Unnotified(ctx context.Context, limit int) ([]monitor.StoredRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, unique_id, title, url, publish_date, source, content, purchaser, notified, created_at
		 FROM bids WHERE notified = FALSE ORDER BY id ASC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unnotified: %w", err)
	}
	defer rows.Close()
	return scanPgxRecords(rows)
}

// MarkNotified flags the given unique IDs as dispatched.
func (s *Postgres) MarkNotified(ctx context.Context, uniqueIDs []string) error {
	if len(uniqueIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE bids SET notified = TRUE WHERE unique_id = ANY($1)`, uniqueIDs,
	); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// Recent returns the newest records for the control surface.
func (s *Postgres) Recent(ctx context.Context, limit, offset int) ([]monitor.StoredRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, unique_id, title, url, publish_date, source, content, purchaser, notified, created_at
		 FROM bids ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()
	return scanPgxRecords(rows)
}

// Count returns the total number of stored records.
func (s *Postgres) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bids`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count bids: %w", err)
	}
	return count, nil
}

// Clear removes every stored record.
func (s *Postgres) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM bids`); err != nil {
		return fmt.Errorf("clear bids: %w", err)
	}
	return nil
}

func scanPgxRecords(rows pgx.Rows) ([]monitor.StoredRecord, error) {
	var records []monitor.StoredRecord
	for rows.Next() {
		var rec monitor.StoredRecord
		err := rows.Scan(&rec.ID, &rec.UniqueID, &rec.Title, &rec.URL, &rec.PublishDate,
			&rec.Source, &rec.Content, &rec.Purchaser, &rec.Notified, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bids: %w", err)
	}
	return records, nil
}
