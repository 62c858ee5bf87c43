package usage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"aigateway/internal/core"
)

// MemoryStore keeps records in process memory. It implements Store and Reader and is
// used for the "memory" storage type and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	seen    map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

// WriteBatch appends copies of records in order. Records with an ID already stored are ignored.
func (s *MemoryStore) WriteBatch(_ context.Context, records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r == nil {
			continue
		}
		if _, dup := s.seen[r.ID]; dup {
			continue
		}
		s.seen[r.ID] = struct{}{}
		s.records = append(s.records, *r)
	}
	return nil
}

// Append implements Ledger synchronously.
func (s *MemoryStore) Append(ctx context.Context, rec *Record) {
	_ = s.WriteBatch(ctx, []*Record{rec})
}

func (s *MemoryStore) Flush(context.Context) error { return nil }
func (s *MemoryStore) Close() error                { return nil }

// Records returns a snapshot of every record in append order.
func (s *MemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// SpendSince sums costs per provider.
func (s *MemoryStore) SpendSince(_ context.Context, since time.Time) (map[core.ProviderID]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[core.ProviderID]decimal.Decimal)
	for _, r := range s.records {
		if r.OccurredAt.Before(since) {
			continue
		}
		out[r.Provider] = out[r.Provider].Add(r.CostEstimate)
	}
	return out, nil
}

// Stats aggregates records per (provider, feature).
func (s *MemoryStore) Stats(_ context.Context, since time.Time) ([]ProviderStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		p core.ProviderID
		f core.Feature
	}
	agg := make(map[key]*ProviderStats)
	latency := make(map[key]int64)
	var order []key

	for _, r := range s.records {
		if r.OccurredAt.Before(since) {
			continue
		}
		k := key{r.Provider, r.Feature}
		st, ok := agg[k]
		if !ok {
			st = &ProviderStats{Provider: r.Provider, Feature: r.Feature}
			agg[k] = st
			order = append(order, k)
		}
		st.TotalRequests++
		if r.Success {
			st.SuccessCount++
		} else if r.ErrorMessage != "" {
			// records are in append order, so the latest failure wins
			st.LastError = r.ErrorMessage
		}
		latency[k] += r.LatencyMs
		st.TotalCost = st.TotalCost.Add(r.CostEstimate)
	}

	out := make([]ProviderStats, 0, len(order))
	for _, k := range order {
		st := agg[k]
		st.AvgLatencyMs = float64(latency[k]) / float64(st.TotalRequests)
		finishStats(st)
		out = append(out, *st)
	}
	sortStats(out)
	return out, nil
}

// sortStats orders stats by provider cost rank, then feature name.
func sortStats(stats []ProviderStats) {
	slices.SortFunc(stats, func(a, b ProviderStats) int {
		if d := a.Provider.Rank() - b.Provider.Rank(); d != 0 {
			return d
		}
		switch {
		case a.Feature < b.Feature:
			return -1
		case a.Feature > b.Feature:
			return 1
		}
		return 0
	})
}
