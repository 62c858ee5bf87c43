package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"aigateway/internal/core"
)

type pairKey struct {
	provider core.ProviderID
	feature  core.Feature
}

type pairState struct {
	failures atomic.Int64
	// lastFailure is unix nanoseconds, zero when the pair never failed.
	lastFailure atomic.Int64
	// epoch increments each time a non-empty streak is reset.
	epoch atomic.Uint64
	// alerted holds epoch+1 of the streak that already alerted.
	alerted atomic.Uint64
}

// MemoryTracker keeps streaks in process memory.
type MemoryTracker struct {
	pairs sync.Map // pairKey -> *pairState
	now   func() time.Time
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{now: time.Now}
}

func (t *MemoryTracker) pair(p core.ProviderID, f core.Feature) *pairState {
	key := pairKey{provider: p, feature: f}
	if v, ok := t.pairs.Load(key); ok {
		return v.(*pairState)
	}
	v, _ := t.pairs.LoadOrStore(key, &pairState{})
	return v.(*pairState)
}

func (t *MemoryTracker) RecordSuccess(_ context.Context, p core.ProviderID, f core.Feature) {
	s := t.pair(p, f)
	if s.failures.Swap(0) > 0 {
		s.epoch.Add(1)
	}
}

func (t *MemoryTracker) RecordFailure(_ context.Context, p core.ProviderID, f core.Feature) int {
	s := t.pair(p, f)
	n := s.failures.Add(1)
	s.lastFailure.Store(t.now().UnixNano())
	return int(n)
}

func (t *MemoryTracker) State(_ context.Context, p core.ProviderID, f core.Feature) State {
	st := State{Provider: p, Feature: f}
	v, ok := t.pairs.Load(pairKey{provider: p, feature: f})
	if !ok {
		return st
	}
	s := v.(*pairState)
	st.ConsecutiveFailures = int(s.failures.Load())
	if ns := s.lastFailure.Load(); ns != 0 {
		at := time.Unix(0, ns).UTC()
		st.LastFailureAt = &at
	}
	return st
}

func (t *MemoryTracker) ClaimAlert(_ context.Context, p core.ProviderID, f core.Feature) bool {
	s := t.pair(p, f)
	streak := s.epoch.Load() + 1
	for {
		claimed := s.alerted.Load()
		if claimed == streak {
			return false
		}
		if s.alerted.CompareAndSwap(claimed, streak) {
			return true
		}
	}
}

func (t *MemoryTracker) ReleaseAlert(_ context.Context, p core.ProviderID, f core.Feature) {
	s := t.pair(p, f)
	s.alerted.CompareAndSwap(s.epoch.Load()+1, 0)
}

func (t *MemoryTracker) Reset(context.Context) {
	t.pairs.Clear()
}
