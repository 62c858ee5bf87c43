// Package strategy implements the Budget/Strategy Selector: it picks the cheapest provider
// that is unexcluded, under its spend limits and healthy for the requested feature.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"aigateway/internal/cache"
	"aigateway/internal/core"
	"aigateway/internal/usage"
)

// Limits are one provider's spend limits in USD. Zero means unlimited.
type Limits struct {
	DailyCap      decimal.Decimal
	MonthlyBudget decimal.Decimal
}

// BudgetStatus is a provider's spend against its limits.
type BudgetStatus struct {
	Provider   core.ProviderID
	SpentToday decimal.Decimal
	SpentMonth decimal.Decimal
	Limits     Limits
	// OverDaily is set when a finite daily cap has been reached.
	OverDaily bool
	// OverMonthly is set when a finite monthly budget has been reached.
	OverMonthly bool
}

// Available reports whether the provider may be selected.
func (s BudgetStatus) Available() bool {
	return !s.OverDaily && !s.OverMonthly
}

// PercentOfMonth is month-to-date spend as a percentage of the monthly budget, or zero
// when the budget is unlimited.
func (s BudgetStatus) PercentOfMonth() float64 {
	if !s.Limits.MonthlyBudget.IsPositive() {
		return 0
	}
	pct, _ := s.SpentMonth.Div(s.Limits.MonthlyBudget).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return pct
}

// BudgetChecker answers budget questions for the Selector.
type BudgetChecker interface {
	Status(ctx context.Context, p core.ProviderID) BudgetStatus
}

// BudgetTracker derives spend from the Usage Ledger for the current UTC day and month.
// Results are cached for ttl; concurrent refreshes collapse into one ledger read.
type BudgetTracker struct {
	reader usage.Reader
	cache  cache.Cache
	limits map[core.ProviderID]Limits
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time
}

// NewBudgetTracker creates a tracker. A nil cache selects a process-local one.
func NewBudgetTracker(reader usage.Reader, c cache.Cache, limits map[core.ProviderID]Limits, ttl time.Duration) *BudgetTracker {
	if c == nil {
		c = cache.NewLocalCache()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BudgetTracker{
		reader: reader,
		cache:  c,
		limits: limits,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Limits returns the configured limits of p.
func (b *BudgetTracker) Limits(p core.ProviderID) Limits {
	return b.limits[p]
}

// Status returns the spend of p against its limits.
func (b *BudgetTracker) Status(ctx context.Context, p core.ProviderID) BudgetStatus {
	snap := b.snapshot(ctx)
	limits := b.limits[p]
	st := BudgetStatus{
		Provider:   p,
		SpentToday: snap.Daily[p],
		SpentMonth: snap.Monthly[p],
		Limits:     limits,
	}
	st.OverDaily = limits.DailyCap.IsPositive() && st.SpentToday.GreaterThanOrEqual(limits.DailyCap)
	st.OverMonthly = limits.MonthlyBudget.IsPositive() && st.SpentMonth.GreaterThanOrEqual(limits.MonthlyBudget)
	return st
}

// Statuses returns Status for every provider in cost order.
func (b *BudgetTracker) Statuses(ctx context.Context) []BudgetStatus {
	providers := core.Providers()
	out := make([]BudgetStatus, 0, len(providers))
	for _, p := range providers {
		out = append(out, b.Status(ctx, p))
	}
	return out
}

func (b *BudgetTracker) snapshot(ctx context.Context) *cache.SpendSnapshot {
	now := b.now()
	snap, err := b.cache.Get(ctx)
	if err != nil {
		slog.Warn("spend cache read failed", "error", err)
	} else if snap.FreshAt(now, b.ttl) {
		return snap
	}

	v, _, _ := b.group.Do("spend", func() (any, error) {
		return b.refresh(ctx, now), nil
	})
	return v.(*cache.SpendSnapshot)
}

// refresh reads the ledger. A failed read counts as zero spend so the gateway keeps serving.
func (b *BudgetTracker) refresh(ctx context.Context, now time.Time) *cache.SpendSnapshot {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	dayStart, monthStart := windows(now)
	snap := &cache.SpendSnapshot{ComputedAt: now}

	daily, err := b.reader.SpendSince(ctx, dayStart)
	if err != nil {
		slog.Warn("failed to read daily spend, assuming zero", "error", err)
		daily = map[core.ProviderID]decimal.Decimal{}
	}
	monthly, err := b.reader.SpendSince(ctx, monthStart)
	if err != nil {
		slog.Warn("failed to read monthly spend, assuming zero", "error", err)
		monthly = map[core.ProviderID]decimal.Decimal{}
	}
	snap.Daily = daily
	snap.Monthly = monthly

	if err := b.cache.Set(ctx, snap); err != nil {
		slog.Warn("spend cache write failed", "error", err)
	}
	return snap
}

// windows returns the start of the UTC day and month containing now.
func windows(now time.Time) (dayStart, monthStart time.Time) {
	u := now.UTC()
	dayStart = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	monthStart = time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return dayStart, monthStart
}
