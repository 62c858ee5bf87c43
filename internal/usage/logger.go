package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Logger is the asynchronous Ledger. Records are queued on a single channel and written
// in batches, so records appended by one goroutine reach the store in append order.
type Logger struct {
	store         Store
	buffer        chan *Record
	done          chan struct{}
	wg            sync.WaitGroup
	flushInterval time.Duration

	// mu orders Append against Close so no record is sent after the buffer drains.
	mu     sync.RWMutex
	closed bool
}

// NewLogger creates a Logger and starts its flush goroutine.
func NewLogger(store Store, cfg Config) *Logger {
	defaults := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}

	l := &Logger{
		store:         store,
		buffer:        make(chan *Record, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Append queues rec without blocking. A full buffer or a closed logger drops the record
// with a warning.
func (l *Logger) Append(_ context.Context, rec *Record) {
	if rec == nil {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.buffer <- rec:
	default:
		recordsDropped.Inc()
		slog.Warn("usage ledger buffer full, dropping record",
			"request_id", rec.RequestID,
			"provider", rec.Provider,
			"attempt", rec.Attempt,
		)
	}
}

// Close stops accepting records, flushes what is buffered and closes the store.
// Close is idempotent.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, BatchFlushThreshold)

	for {
		select {
		case rec := <-l.buffer:
			batch = append(batch, rec)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*Record, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*Record, 0, BatchFlushThreshold)
			}

		case <-l.done:
			close(l.buffer)
			for rec := range l.buffer {
				batch = append(batch, rec)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		writeFailures.Inc()
		slog.Error("failed to write usage batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopLedger discards records.
type NoopLedger struct{}

// Append does nothing
func (NoopLedger) Append(context.Context, *Record) {}
