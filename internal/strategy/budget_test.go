package strategy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/cache"
	"aigateway/internal/core"
	"aigateway/internal/health"
	"aigateway/internal/usage"
)

type countingReader struct {
	usage.Reader
	calls atomic.Int32
}

func (r *countingReader) SpendSince(ctx context.Context, since time.Time) (map[core.ProviderID]decimal.Decimal, error) {
	r.calls.Add(1)
	return r.Reader.SpendSince(ctx, since)
}

type failingReader struct{}

func (failingReader) SpendSince(context.Context, time.Time) (map[core.ProviderID]decimal.Decimal, error) {
	return nil, errors.New("database is down")
}

func (failingReader) Stats(context.Context, time.Time) ([]usage.ProviderStats, error) {
	return nil, errors.New("database is down")
}

func writeSpend(t *testing.T, store *usage.MemoryStore, p core.ProviderID, cost string, at time.Time) {
	t.Helper()
	rec := usage.NewRecord("req", 1, p, core.FeatureChat)
	rec.Success = true
	rec.CostEstimate = decimal.RequireFromString(cost)
	rec.OccurredAt = at
	require.NoError(t, store.WriteBatch(context.Background(), []*usage.Record{rec}))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBudgetTracker_DailyAndMonthlyWindows(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := usage.NewMemoryStore()
	writeSpend(t, store, core.PaidDirect, "2.000000", now.Add(-time.Hour))
	writeSpend(t, store, core.PaidDirect, "5.000000", now.AddDate(0, 0, -3))
	writeSpend(t, store, core.PaidDirect, "50.000000", now.AddDate(0, -1, 0))

	b := NewBudgetTracker(store, nil, map[core.ProviderID]Limits{
		core.PaidDirect: {DailyCap: dec("3"), MonthlyBudget: dec("100")},
	}, time.Minute)
	b.now = func() time.Time { return now }

	st := b.Status(context.Background(), core.PaidDirect)
	assert.True(t, st.SpentToday.Equal(dec("2")), "today: %s", st.SpentToday)
	assert.True(t, st.SpentMonth.Equal(dec("7")), "month: %s", st.SpentMonth)
	assert.True(t, st.Available())
	assert.InDelta(t, 7.0, st.PercentOfMonth(), 0.001)
}

func TestBudgetTracker_CapsReached(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	store := usage.NewMemoryStore()
	writeSpend(t, store, core.PaidAggregator, "1.700000", now.Add(-time.Minute))
	writeSpend(t, store, core.PaidDirect, "99.000000", now.AddDate(0, 0, -2))
	writeSpend(t, store, core.PaidDirect, "1.000000", now.Add(-time.Minute))

	b := NewBudgetTracker(store, nil, map[core.ProviderID]Limits{
		core.PaidAggregator: {DailyCap: dec("1.666667"), MonthlyBudget: dec("50")},
		core.PaidDirect:     {DailyCap: dec("3.333333"), MonthlyBudget: dec("100")},
	}, time.Minute)
	b.now = func() time.Time { return now }

	agg := b.Status(context.Background(), core.PaidAggregator)
	assert.True(t, agg.OverDaily)
	assert.False(t, agg.OverMonthly)
	assert.False(t, agg.Available())

	direct := b.Status(context.Background(), core.PaidDirect)
	assert.False(t, direct.OverDaily)
	assert.True(t, direct.OverMonthly)

	free := b.Status(context.Background(), core.FreePrimary)
	assert.True(t, free.Available(), "unlimited providers are always available")
	assert.Zero(t, free.PercentOfMonth())
}

func TestBudgetTracker_CachesWithinTTL(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	reader := &countingReader{Reader: usage.NewMemoryStore()}
	b := NewBudgetTracker(reader, cache.NewLocalCache(), nil, 30*time.Second)
	b.now = func() time.Time { return now }

	b.Statuses(context.Background())
	b.Statuses(context.Background())
	assert.Equal(t, int32(2), reader.calls.Load(), "one daily and one monthly read")

	now = now.Add(31 * time.Second)
	b.Status(context.Background(), core.PaidDirect)
	assert.Equal(t, int32(4), reader.calls.Load())
}

func TestBudgetTracker_ConcurrentRefreshesCollapse(t *testing.T) {
	reader := &countingReader{Reader: usage.NewMemoryStore()}
	b := NewBudgetTracker(reader, nil, nil, time.Minute)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Status(context.Background(), core.PaidDirect)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, reader.calls.Load(), int32(32*2))
	assert.GreaterOrEqual(t, reader.calls.Load(), int32(2))
}

func TestBudgetTracker_ReadFailureMeansZeroSpend(t *testing.T) {
	b := NewBudgetTracker(failingReader{}, nil, map[core.ProviderID]Limits{
		core.PaidDirect: {DailyCap: dec("1")},
	}, time.Minute)

	st := b.Status(context.Background(), core.PaidDirect)
	assert.True(t, st.SpentToday.IsZero())
	assert.True(t, st.Available())
}

func TestSelector_CheaperProviderOverCapIsNeverOffered(t *testing.T) {
	now := time.Now().UTC()
	store := usage.NewMemoryStore()
	writeSpend(t, store, core.PaidAggregator, "10.000000", now)

	b := NewBudgetTracker(store, nil, map[core.ProviderID]Limits{
		core.PaidAggregator: {DailyCap: dec("1")},
		core.PaidDirect:     {DailyCap: dec("1")},
	}, time.Minute)
	tr := health.NewMemoryTracker()
	s := NewSelector(b, tr, 5)

	ex := excluded(core.FreePrimary, core.FreeSecondary)
	d := s.SelectNextProvider(context.Background(), core.FeatureChat, ex)
	assert.Equal(t, core.PaidDirect, d.Provider)
}

func TestWindows(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	// 22:00 on March 31 at UTC-3 is already April 1 in UTC.
	day, month := windows(time.Date(2026, 3, 31, 22, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), day)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), month)
}
