// Package usage implements the Usage Ledger: an append-only record of every provider
// attempt with tokens, estimated cost, latency and error text.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"aigateway/internal/core"
)

// Record is one provider attempt. Records are written once and never updated.
type Record struct {
	ID string `json:"id"`
	// RequestID groups the attempts of one logical request; Attempt orders them.
	RequestID    string          `json:"request_id"`
	Attempt      int             `json:"attempt"`
	Provider     core.ProviderID `json:"provider"`
	Model        string          `json:"model"`
	Feature      core.Feature    `json:"feature"`
	TokensIn     int             `json:"tokens_in"`
	TokensOut    int             `json:"tokens_out"`
	CostEstimate decimal.Decimal `json:"cost_estimate"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
	LatencyMs    int64           `json:"latency_ms"`
	ActorID      string          `json:"actor_id,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// CancelledPrefix starts the ErrorMessage of an attempt the caller abandoned.
const CancelledPrefix = "cancelled: "

// NewRecord returns a Record with a fresh ID and the current UTC time.
func NewRecord(requestID string, attempt int, provider core.ProviderID, feature core.Feature) *Record {
	return &Record{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		Attempt:    attempt,
		Provider:   provider,
		Feature:    feature,
		OccurredAt: time.Now().UTC(),
	}
}

// Ledger accepts records. Append never fails the caller; persistence errors are logged.
type Ledger interface {
	Append(ctx context.Context, rec *Record)
}

// Store persists batches of records. Batches are written in slice order.
type Store interface {
	WriteBatch(ctx context.Context, records []*Record) error
	Flush(ctx context.Context) error
	Close() error
}

// ProviderStats aggregates the records of one (provider, feature) pair over a window.
type ProviderStats struct {
	Provider      core.ProviderID `json:"provider"`
	Feature       core.Feature    `json:"feature"`
	TotalRequests int             `json:"total_requests"`
	SuccessCount  int             `json:"success_count"`
	ErrorCount    int             `json:"error_count"`
	SuccessRate   float64         `json:"success_rate"`
	AvgLatencyMs  float64         `json:"avg_latency_ms"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	LastError     string          `json:"last_error,omitempty"`
}

// ErrorRate is the failed share of TotalRequests.
func (s ProviderStats) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.TotalRequests)
}

// Reader queries the ledger. Budget state and provider metrics are always derived from it.
type Reader interface {
	// SpendSince sums CostEstimate per provider for records at or after since.
	SpendSince(ctx context.Context, since time.Time) (map[core.ProviderID]decimal.Decimal, error)
	// Stats aggregates records at or after since per (provider, feature).
	Stats(ctx context.Context, since time.Time) ([]ProviderStats, error)
}

// Config holds ledger buffering and retention settings
type Config struct {
	// BufferSize is the number of records queued before new ones are dropped
	BufferSize int
	// FlushInterval is how often buffered records are written
	FlushInterval time.Duration
	// RetentionDays is how long records are kept (0 = forever)
	RetentionDays int
}

// DefaultConfig returns the default ledger settings
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}

// BatchFlushThreshold is the number of records that triggers an early flush.
const BatchFlushThreshold = 100

// finishStats fills the derived fields of s.
func finishStats(s *ProviderStats) {
	s.ErrorCount = s.TotalRequests - s.SuccessCount
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.SuccessCount) / float64(s.TotalRequests)
	}
	s.TotalCost = s.TotalCost.Round(costScale)
}
