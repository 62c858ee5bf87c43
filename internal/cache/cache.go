// Package cache stores snapshots of ledger-derived spend so the Strategy Selector does not
// query the Usage Ledger on every decision. Local and Redis backends are provided; Redis
// shares one snapshot across gateway instances.
package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"aigateway/internal/core"
)

// SpendSnapshot is the per-provider spend for the current UTC day and month.
type SpendSnapshot struct {
	ComputedAt time.Time                           `json:"computed_at"`
	Daily      map[core.ProviderID]decimal.Decimal `json:"daily"`
	Monthly    map[core.ProviderID]decimal.Decimal `json:"monthly"`
}

// FreshAt reports whether the snapshot is younger than ttl at now and belongs to the
// same UTC day as now.
func (s *SpendSnapshot) FreshAt(now time.Time, ttl time.Duration) bool {
	if s == nil {
		return false
	}
	if now.Sub(s.ComputedAt) >= ttl {
		return false
	}
	return now.UTC().Format("2006-01-02") == s.ComputedAt.UTC().Format("2006-01-02")
}

// Cache defines the interface for spend snapshot storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns nil, nil when no snapshot exists yet.
	Get(ctx context.Context) (*SpendSnapshot, error)
	Set(ctx context.Context, snap *SpendSnapshot) error
	Close() error
}
