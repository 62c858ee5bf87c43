package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"aigateway/internal/core"
)

// lastErrorScanLimit bounds the rows scanned when looking up the latest error per pair.
const lastErrorScanLimit = 500

// SpendSince sums cost per provider.
func (s *SQLiteStore) SpendSince(ctx context.Context, since time.Time) (map[core.ProviderID]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, COALESCE(SUM(cost_micros), 0) FROM ai_usage_records
		 WHERE occurred_at >= ? GROUP BY provider`,
		since.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query spend: %w", err)
	}
	defer rows.Close()

	out := make(map[core.ProviderID]decimal.Decimal)
	for rows.Next() {
		var provider string
		var micros int64
		if err := rows.Scan(&provider, &micros); err != nil {
			return nil, fmt.Errorf("failed to scan spend row: %w", err)
		}
		out[core.ProviderID(provider)] = fromMicros(micros)
	}
	return out, rows.Err()
}

// Stats aggregates records per (provider, feature).
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) ([]ProviderStats, error) {
	cutoff := since.UTC().Format(sqliteTimeLayout)

	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, feature, COUNT(*), COALESCE(SUM(success), 0),
		        COALESCE(AVG(latency_ms), 0), COALESCE(SUM(cost_micros), 0)
		 FROM ai_usage_records WHERE occurred_at >= ?
		 GROUP BY provider, feature`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var stats []ProviderStats
	for rows.Next() {
		var st ProviderStats
		var provider, feature string
		var micros int64
		if err := rows.Scan(&provider, &feature, &st.TotalRequests, &st.SuccessCount, &st.AvgLatencyMs, &micros); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		st.Provider = core.ProviderID(provider)
		st.Feature = core.Feature(feature)
		st.TotalCost = fromMicros(micros)
		finishStats(&st)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	errRows, err := s.db.QueryContext(ctx,
		`SELECT provider, feature, error_message FROM ai_usage_records
		 WHERE occurred_at >= ? AND success = 0 AND error_message IS NOT NULL
		 ORDER BY occurred_at DESC LIMIT ?`, cutoff, lastErrorScanLimit)
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

// rowScanner is satisfied by *sql.Rows and pgx.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

var _ rowScanner = (*sql.Rows)(nil)

// applyLastErrors reads (provider, feature, message) rows newest first and keeps the
// first message seen per pair.
func applyLastErrors(stats []ProviderStats, rows rowScanner) error {
	index := make(map[string]int, len(stats))
	for i, st := range stats {
		index[string(st.Provider)+"|"+string(st.Feature)] = i
	}
	for rows.Next() {
		var provider, feature, message string
		if err := rows.Scan(&provider, &feature, &message); err != nil {
			return fmt.Errorf("failed to scan last error row: %w", err)
		}
		i, ok := index[provider+"|"+feature]
		if ok && stats[i].LastError == "" {
			stats[i].LastError = message
		}
	}
	return rows.Err()
}
