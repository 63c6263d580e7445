package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/evergrid-labs/bidwatch/internal/monitor"
	"github.com/evergrid-labs/bidwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements monitor.RecordStore backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Exists reports whether a record with the given unique ID is stored.
func (s *SQLite) Exists(ctx context.Context, uniqueID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bids WHERE unique_id = ?`, uniqueID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return count > 0, nil
}

// Save inserts the record unless its unique ID is already present. It reports
// whether a row was inserted.
func (s *SQLite) Save(ctx context.Context, rec monitor.Record) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bids
		 (unique_id, title, url, publish_date, source, content, purchaser, notified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		rec.UniqueID(), rec.Title, rec.URL, rec.PublishDate, rec.Source, rec.Content, rec.Purchaser, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert bid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Unnotified returns up to limit records awaiting dispatch, oldest first.
func (s *SQLite) Unnotified(ctx context.Context, limit int) ([]monitor.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, unique_id, title, url, publish_date, source, content, purchaser, notified, created_at
		 FROM bids WHERE notified = 0 ORDER BY id ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unnotified: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// MarkNotified flags the given unique IDs as dispatched.
func (s *SQLite) MarkNotified(ctx context.Context, uniqueIDs []string) error {
	if len(uniqueIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range uniqueIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE bids SET notified = 1 WHERE unique_id = ?`, id); err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns the newest records for the control surface.
func (s *SQLite) Recent(ctx context.Context, limit, offset int) ([]monitor.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, unique_id, title, url, publish_date, source, content, purchaser, notified, created_at
		 FROM bids ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// Count returns the total number of stored records.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bids`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count bids: %w", err)
	}
	return count, nil
}

// Clear removes every stored record.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bids`); err != nil {
		return fmt.Errorf("clear bids: %w", err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]monitor.StoredRecord, error) {
	var records []monitor.StoredRecord
	for rows.Next() {
		var (
			rec      monitor.StoredRecord
			notified int
			created  string
		)
		err := rows.Scan(&rec.ID, &rec.UniqueID, &rec.Title, &rec.URL, &rec.PublishDate,
			&rec.Source, &rec.Content, &rec.Purchaser, &notified, &created)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		rec.Notified = notified == 1
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		records = append(records, rec)
	}
	return records, rows.Err()
}
