// Package health tracks consecutive failures per (provider, feature) pair and raises one
// operator alert per unresolved failure streak.
package health

import (
	"context"
	"time"

	"aigateway/internal/core"
)

// State is the health of one (provider, feature) pair.
type State struct {
	Provider            core.ProviderID `json:"provider"`
	Feature             core.Feature    `json:"feature"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastFailureAt       *time.Time      `json:"last_failure_at,omitempty"`
}

// Tracker holds failure streaks. Implementations must be safe for concurrent use and
// must not lose increments when callers race on the same pair.
type Tracker interface {
	// RecordSuccess resets the streak of the pair to zero.
	RecordSuccess(ctx context.Context, p core.ProviderID, f core.Feature)
	// RecordFailure increments the streak and returns the new value.
	RecordFailure(ctx context.Context, p core.ProviderID, f core.Feature) int
	State(ctx context.Context, p core.ProviderID, f core.Feature) State
	// ClaimAlert reports true for at most one caller per streak.
	ClaimAlert(ctx context.Context, p core.ProviderID, f core.Feature) bool
	// ReleaseAlert undoes a claim for the current streak so a later failure can alert again.
	ReleaseAlert(ctx context.Context, p core.ProviderID, f core.Feature)
	// Reset forgets every pair.
	Reset(ctx context.Context)
}

// Snapshot returns the state of every known (provider, feature) pair.
func Snapshot(ctx context.Context, t Tracker) []State {
	providers := core.Providers()
	features := core.Features()
	out := make([]State, 0, len(providers)*len(features))
	for _, p := range providers {
		for _, f := range features {
			out = append(out, t.State(ctx, p, f))
		}
	}
	return out
}
