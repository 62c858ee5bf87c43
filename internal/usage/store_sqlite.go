package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query.
const (
	maxSQLiteParams       = 999
	columnsPerUsageRecord = 13
	maxRecordsPerBatch    = maxSQLiteParams / columnsPerUsageRecord
)

// sqliteTimeLayout is fixed width so text comparison orders timestamps correctly.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store and Reader for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates the ledger table and starts retention cleanup when configured.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ai_usage_records (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 1,
			provider TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			feature TEXT NOT NULL,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			cost_micros INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL,
			error_message TEXT,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			occurred_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}

	// SQLite lacks ADD COLUMN IF NOT EXISTS
	migrations := []string{
		"ALTER TABLE ai_usage_records ADD COLUMN actor_id TEXT",
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return nil, fmt.Errorf("failed to run migration %q: %w", m, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_ai_usage_occurred_at ON ai_usage_records(occurred_at)",
		"CREATE INDEX IF NOT EXISTS idx_ai_usage_provider_occurred ON ai_usage_records(provider, occurred_at)",
		"CREATE INDEX IF NOT EXISTS idx_ai_usage_request_id ON ai_usage_records(request_id)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, CleanupInterval, retentionDays, store.cleanup)
	}
	return store, nil
}

// WriteBatch inserts records in chunks that stay within SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, records []*Record) error {
	for i := 0; i < len(records); i += maxRecordsPerBatch {
		chunk := records[i:min(i+maxRecordsPerBatch, len(records))]

		placeholders := make([]string, len(chunk))
		values := make([]interface{}, 0, len(chunk)*columnsPerUsageRecord)
		for j, r := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				r.ID,
				r.RequestID,
				r.Attempt,
				string(r.Provider),
				r.Model,
				string(r.Feature),
				r.TokensIn,
				r.TokensOut,
				toMicros(r.CostEstimate),
				r.Success,
				nullString(r.ErrorMessage),
				r.LatencyMs,
				r.OccurredAt.UTC().Format(sqliteTimeLayout),
				nullString(r.ActorID),
			)
		}

		query := `INSERT OR IGNORE INTO ai_usage_records (id, request_id, attempt, provider, model, feature,
			tokens_in, tokens_out, cost_micros, success, error_message, latency_ms, occurred_at, actor_id) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert usage batch %d: %w", i/maxRecordsPerBatch, err)
		}
	}
	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The DB itself belongs to the storage layer.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

func (s *SQLiteStore) cleanup(cutoff time.Time) {
	result, err := s.db.Exec("DELETE FROM ai_usage_records WHERE occurred_at < ?", cutoff.Format(sqliteTimeLayout))
	if err != nil {
		slog.Error("failed to cleanup old usage records", "error", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		slog.Info("cleaned up old usage records", "deleted", n)
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
