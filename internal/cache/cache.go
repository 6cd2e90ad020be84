// Package cache is the local persisted snapshot of remote calendar
// events plus the pending-mutation queue and sync metadata. The
// snapshot is last-writer-wins, no event history is retained.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"notisync/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const metaLastSync = "last_sync"

type Cache struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(path string, logger zerolog.Logger) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Offline cache initialized")
	return &Cache{db: db, logger: logger.With().Str("component", "cache").Logger()}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
            id TEXT PRIMARY KEY,
            date_key TEXT NOT NULL,
            payload TEXT NOT NULL,
            synced_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            op_type TEXT NOT NULL,
            payload TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS metadata (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_events_date_key ON events(date_key)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_created_at ON sync_queue(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_retry_count ON sync_queue(retry_count)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// CacheEvents upserts each event keyed by id and records syncTime as
// the last-sync metadata.
func (c *Cache) CacheEvents(ctx context.Context, events []models.CalendarEvent, syncTime time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (id, date_key, payload, synced_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET date_key = excluded.date_key, payload = excluded.payload, synced_at = excluded.synced_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, event.ID, event.DateKey(), string(payload), syncTime); err != nil {
			return fmt.Errorf("failed to upsert event %s: %w", event.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastSync, syncTime.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to record last sync time: %w", err)
	}

	return tx.Commit()
}

// CachedEvents returns cached events, range-filtered by date key when
// bounds are given. Nil bounds mean a full scan.
func (c *Cache) CachedEvents(ctx context.Context, startDate, endDate *time.Time) ([]models.CalendarEvent, error) {
	query := `SELECT payload FROM events`
	var args []interface{}

	switch {
	case startDate != nil && endDate != nil:
		query += ` WHERE date_key >= ? AND date_key <= ?`
		args = append(args, startDate.Format(models.DateKeyLayout), endDate.Format(models.DateKeyLayout))
	case startDate != nil:
		query += ` WHERE date_key >= ?`
		args = append(args, startDate.Format(models.DateKeyLayout))
	case endDate != nil:
		query += ` WHERE date_key <= ?`
		args = append(args, endDate.Format(models.DateKeyLayout))
	}
	query += ` ORDER BY date_key ASC, id ASC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached events: %w", err)
	}
	defer rows.Close()

	var events []models.CalendarEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan cached event: %w", err)
		}
		var event models.CalendarEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("failed to decode cached event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// TodayCachedEvents is the convenience range query for the current day.
func (c *Cache) TodayCachedEvents(ctx context.Context) ([]models.CalendarEvent, error) {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return c.CachedEvents(ctx, &start, &start)
}

// LastSyncTime returns nil when no sync has completed yet.
func (c *Cache) LastSyncTime(ctx context.Context) (*time.Time, error) {
	var value string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, metaLastSync).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last sync time: %w", err)
	}
	return &ts, nil
}

// ClearCache empties events, the pending-mutation queue and metadata.
func (c *Cache) ClearCache(ctx context.Context) error {
	for _, table := range []string{"events", "sync_queue", "metadata"} {
		if _, err := c.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// AddToSyncQueue appends a pending mutation with retryCount=0.
func (c *Cache) AddToSyncQueue(ctx context.Context, op *models.SyncOperation) error {
	now := time.Now()
	result, err := c.db.ExecContext(ctx,
		`INSERT INTO sync_queue (op_type, payload, retry_count, created_at) VALUES (?, ?, 0, ?)`,
		string(op.Type), op.Payload, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue sync operation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	op.ID = id
	op.RetryCount = 0
	op.CreatedAt = now
	return nil
}

// PendingOperations returns the queue in creation order.
func (c *Cache) PendingOperations(ctx context.Context) ([]models.SyncOperation, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, op_type, payload, retry_count, last_error, created_at FROM sync_queue ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var ops []models.SyncOperation
	for rows.Next() {
		var op models.SyncOperation
		var opType string
		if err := rows.Scan(&op.ID, &opType, &op.Payload, &op.RetryCount, &op.LastError, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync operation: %w", err)
		}
		op.Type = models.SyncOpType(opType)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// RemoveOperation deletes a successfully applied mutation.
func (c *Cache) RemoveOperation(ctx context.Context, id int64) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove sync operation: %w", err)
	}
	return nil
}

// RecordOperationFailure increments the retry counter and stores the
// error, returning the new count.
func (c *Cache) RecordOperationFailure(ctx context.Context, id int64, errMsg string) (int, error) {
	if _, err := c.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ? WHERE id = ?`, errMsg, id); err != nil {
		return 0, fmt.Errorf("failed to record sync failure: %w", err)
	}

	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}
	return count, nil
}
