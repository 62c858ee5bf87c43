package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"aigateway/internal/core"
)

const pgInsertRecord = `
	INSERT INTO ai_usage_records (id, request_id, attempt, provider, model, feature,
		tokens_in, tokens_out, cost_estimate, success, error_message, latency_ms, actor_id, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO NOTHING`

// PostgreSQLStore implements Store and Reader for PostgreSQL.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates the ledger table and starts retention cleanup when configured.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, errors.New("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ai_usage_records (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 1,
			provider TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			feature TEXT NOT NULL,
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			cost_estimate NUMERIC(12,6) NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			error_message TEXT,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			actor_id TEXT,
			occurred_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_ai_usage_occurred_at ON ai_usage_records(occurred_at)",
		"CREATE INDEX IF NOT EXISTS idx_ai_usage_provider_occurred ON ai_usage_records(provider, occurred_at)",
		"CREATE INDEX IF NOT EXISTS idx_ai_usage_request_id ON ai_usage_records(request_id)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, CleanupInterval, retentionDays, store.cleanup)
	}
	return store, nil
}

// WriteBatch sends all inserts in one pgx batch; statements run in slice order.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(pgInsertRecord,
			r.ID, r.RequestID, r.Attempt, string(r.Provider), r.Model, string(r.Feature),
			r.TokensIn, r.TokensOut, r.CostEstimate.StringFixed(costScale), r.Success,
			nullString(r.ErrorMessage), r.LatencyMs, nullString(r.ActorID), r.OccurredAt.UTC())
	}

	results := s.pool.SendBatch(ctx, batch)
	var errs []error
	for _, r := range records {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, fmt.Errorf("insert %s: %w", r.ID, err))
		}
	}
	if err := results.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d usage records: %w", len(errs), len(records), errors.Join(errs...))
	}
	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The pool belongs to the storage layer.
func (s *PostgreSQLStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

func (s *PostgreSQLStore) cleanup(cutoff time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx, "DELETE FROM ai_usage_records WHERE occurred_at < $1", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old usage records", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info("cleaned up old usage records", "deleted", n)
	}
}

// SpendSince sums cost per provider.
func (s *PostgreSQLStore) SpendSince(ctx context.Context, since time.Time) (map[core.ProviderID]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, COALESCE(SUM(cost_estimate), 0)::text FROM ai_usage_records
		 WHERE occurred_at >= $1 GROUP BY provider`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query spend: %w", err)
	}
	defer rows.Close()

	out := make(map[core.ProviderID]decimal.Decimal)
	for rows.Next() {
		var provider, total string
		if err := rows.Scan(&provider, &total); err != nil {
			return nil, fmt.Errorf("failed to scan spend row: %w", err)
		}
		d, err := decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("invalid spend total %q: %w", total, err)
		}
		out[core.ProviderID(provider)] = d
	}
	return out, rows.Err()
}

// Stats aggregates records per (provider, feature).
func (s *PostgreSQLStore) Stats(ctx context.Context, since time.Time) ([]ProviderStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, feature, COUNT(*), COUNT(*) FILTER (WHERE success),
		        COALESCE(AVG(latency_ms), 0)::float8, COALESCE(SUM(cost_estimate), 0)::text
		 FROM ai_usage_records WHERE occurred_at >= $1
		 GROUP BY provider, feature`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	var stats []ProviderStats
	for rows.Next() {
		var st ProviderStats
		var provider, feature, total string
		var count, successes int64
		if err := rows.Scan(&provider, &feature, &count, &successes, &st.AvgLatencyMs, &total); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		cost, err := decimal.NewFromString(total)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("invalid cost total %q: %w", total, err)
		}
		st.Provider = core.ProviderID(provider)
		st.Feature = core.Feature(feature)
		st.TotalRequests = int(count)
		st.SuccessCount = int(successes)
		st.TotalCost = cost
		finishStats(&st)
		stats = append(stats, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	errRows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (provider, feature) provider, feature, error_message
		 FROM ai_usage_records
		 WHERE occurred_at >= $1 AND NOT success AND error_message IS NOT NULL
		 ORDER BY provider, feature, occurred_at DESC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query last errors: %w", err)
	}
	defer errRows.Close()
	if err := applyLastErrors(stats, errRows); err != nil {
		return nil, err
	}

	sortStats(stats)
	return stats, nil
}
