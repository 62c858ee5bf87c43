package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"aigateway/internal/core"
)

// mockStore records batches for testing
type mockStore struct {
	records  []*Record
	mu       sync.Mutex
	closed   bool
	writeErr error
}

func (m *mockStore) WriteBatch(_ context.Context, records []*Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *mockStore) Flush(context.Context) error { return nil }

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) getRecords() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, len(m.records))
	copy(out, m.records)
	return out
}

func TestLogger_FlushesOnInterval(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 100, FlushInterval: 50 * time.Millisecond})

	for i := 0; i < 5; i++ {
		logger.Append(context.Background(), NewRecord("req-1", i+1, core.FreePrimary, core.FeatureChat))
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(store.getRecords()) < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(store.getRecords()); got != 5 {
		t.Fatalf("expected 5 records, got %d", got)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("logger close error: %v", err)
	}
	if !store.closed {
		t.Error("store should be closed")
	}
}

func TestLogger_CloseFlushesPending(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 1000, FlushInterval: time.Hour})

	for i := 0; i < 10; i++ {
		logger.Append(context.Background(), NewRecord(fmt.Sprintf("req-%d", i), 1, core.PaidDirect, core.FeatureOCR))
	}
	if err := logger.Close(); err != nil {
		t.Errorf("logger close error: %v", err)
	}
	if got := len(store.getRecords()); got != 10 {
		t.Errorf("expected 10 records after close, got %d", got)
	}

	// Close is idempotent and Append after Close is ignored.
	if err := logger.Close(); err != nil {
		t.Errorf("second close error: %v", err)
	}
	logger.Append(context.Background(), NewRecord("late", 1, core.PaidDirect, core.FeatureOCR))
	if got := len(store.getRecords()); got != 10 {
		t.Errorf("append after close should be dropped, got %d records", got)
	}
}

func TestLogger_PreservesAppendOrder(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 1000, FlushInterval: time.Hour})

	providers := core.Providers()
	for i, p := range providers {
		logger.Append(context.Background(), NewRecord("req-order", i+1, p, core.FeatureChat))
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("logger close error: %v", err)
	}

	got := store.getRecords()
	if len(got) != len(providers) {
		t.Fatalf("expected %d records, got %d", len(providers), len(got))
	}
	for i, r := range got {
		if r.Attempt != i+1 || r.Provider != providers[i] {
			t.Errorf("record %d = attempt %d provider %s, want attempt %d provider %s",
				i, r.Attempt, r.Provider, i+1, providers[i])
		}
	}
}

func TestLogger_AppendRacingClose(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 1000, FlushInterval: time.Millisecond})

	const writers, perWriter = 8, 100
	var started, wg sync.WaitGroup
	started.Add(writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			for i := 0; i < perWriter; i++ {
				logger.Append(context.Background(), NewRecord(fmt.Sprintf("req-%d", w), i+1, core.FreePrimary, core.FeatureChat))
			}
		}()
	}
	started.Wait()

	if err := logger.Close(); err != nil {
		t.Fatalf("logger close error: %v", err)
	}
	stored := len(store.getRecords())
	wg.Wait()

	// Appends that lost the race are dropped, never written after Close.
	if got := len(store.getRecords()); got != stored {
		t.Errorf("records written after Close: %d -> %d", stored, got)
	}
	if stored > writers*perWriter {
		t.Errorf("stored %d records, at most %d appended", stored, writers*perWriter)
	}
}

func TestLogger_DropsWhenBufferFull(t *testing.T) {
	store := &mockStore{}
	logger := &Logger{
		store:  store,
		buffer: make(chan *Record, 1),
		done:   make(chan struct{}),
	}
	// No flush loop: the second record cannot be queued.
	logger.Append(context.Background(), NewRecord("a", 1, core.FreePrimary, core.FeatureChat))
	logger.Append(context.Background(), NewRecord("b", 1, core.FreePrimary, core.FeatureChat))

	if got := len(logger.buffer); got != 1 {
		t.Errorf("buffer length = %d, want 1", got)
	}
}

func TestLogger_StoreErrorIsSwallowed(t *testing.T) {
	store := &mockStore{writeErr: errors.New("disk full")}
	logger := NewLogger(store, Config{BufferSize: 10, FlushInterval: time.Hour})

	logger.Append(context.Background(), NewRecord("req", 1, core.FreePrimary, core.FeatureChat))
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestNoopLedger(t *testing.T) {
	var l Ledger = NoopLedger{}
	l.Append(context.Background(), nil)
	l.Append(context.Background(), NewRecord("req", 1, core.FreePrimary, core.FeatureChat))
}
