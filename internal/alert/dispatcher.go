package alert

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aigateway_alert_tasks_total",
	Help: "Background alert tasks by outcome",
}, []string{"result"})

// Task is one unit of background alerting work.
type Task func(ctx context.Context) error

// DispatcherConfig sizes the background queue.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds each task
	Timeout time.Duration
}

type job struct {
	name string
	task Task
}

// Dispatcher runs alert tasks off the request path. Task errors and panics are logged and
// counted; nothing is returned to the submitter.
type Dispatcher struct {
	queue   chan job
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

// NewDispatcher starts cfg.Workers workers.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := &Dispatcher{
		queue:   make(chan job, cfg.QueueSize),
		timeout: cfg.Timeout,
	}
	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	return d
}

// Submit queues task without blocking. It reports false when the queue is full or the
// dispatcher is closed.
func (d *Dispatcher) Submit(name string, task Task) bool {
	if task == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		tasksTotal.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case d.queue <- job{name: name, task: task}:
		return true
	default:
		tasksTotal.WithLabelValues("dropped").Inc()
		slog.Warn("alert queue full, dropping task", "task", name)
		return false
	}
}

// Close stops accepting tasks and waits for queued ones until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alert dispatcher drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			tasksTotal.WithLabelValues("panic").Inc()
			slog.Error("alert task panicked",
				"task", j.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := j.task(ctx); err != nil {
		tasksTotal.WithLabelValues("error").Inc()
		slog.Warn("alert task failed", "task", j.name, "error", err)
		return
	}
	tasksTotal.WithLabelValues("ok").Inc()
}
