// Package monitor derives provider dashboards and windowed metrics from the Usage Ledger
// and raises scheduled metric and budget alerts.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"aigateway/internal/alert"
	"aigateway/internal/core"
	"aigateway/internal/health"
	"aigateway/internal/strategy"
	"aigateway/internal/usage"
)

// Config holds the thresholds of the scheduled checks.
type Config struct {
	// Schedule is a cron spec, default "@every 15m"
	Schedule           string
	Window             time.Duration
	MinRequests        int
	ErrorRateThreshold float64
	LatencyThreshold   time.Duration
	DailyCostThreshold decimal.Decimal
	BudgetAlertRatio   float64
	Cooldown           time.Duration
	// CheckTimeout bounds one scheduled run
	CheckTimeout time.Duration
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		Schedule:           "@every 15m",
		Window:             24 * time.Hour,
		MinRequests:        10,
		ErrorRateThreshold: 0.3,
		LatencyThreshold:   10 * time.Second,
		DailyCostThreshold: decimal.NewFromInt(5),
		BudgetAlertRatio:   0.8,
		Cooldown:           time.Hour,
		CheckTimeout:       time.Minute,
	}
}

// ConfiguredSource reports whether a provider has credentials.
type ConfiguredSource interface {
	Configured(p core.ProviderID) bool
}

// BudgetSource reports budget state for every provider.
type BudgetSource interface {
	Statuses(ctx context.Context) []strategy.BudgetStatus
}

// Monitor owns the dashboard queries and the scheduled checks.
type Monitor struct {
	cfg       Config
	reader    usage.Reader
	budgets   BudgetSource
	tracker   health.Tracker
	providers ConfiguredSource
	notifier  alert.Notifier
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time

	cron *cron.Cron
}

// New creates a Monitor. Zero-valued thresholds fall back to DefaultConfig.
func New(cfg Config, reader usage.Reader, budgets BudgetSource, tracker health.Tracker, providers ConfiguredSource, notifier alert.Notifier) *Monitor {
	def := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = def.LatencyThreshold
	}
	if !cfg.DailyCostThreshold.IsPositive() {
		cfg.DailyCostThreshold = def.DailyCostThreshold
	}
	if cfg.BudgetAlertRatio <= 0 {
		cfg.BudgetAlertRatio = def.BudgetAlertRatio
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	return &Monitor{
		cfg:       cfg,
		reader:    reader,
		budgets:   budgets,
		tracker:   tracker,
		providers: providers,
		notifier:  notifier,
		now:       time.Now,
		lastSent:  make(map[string]time.Time),
	}
}

// Start schedules the checks. It fails on an invalid cron spec.
func (m *Monitor) Start() error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(m.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckTimeout)
		defer cancel()
		m.RunMetricsCheck(ctx)
		m.CheckBudgetAlerts(ctx)
	})
	if err != nil {
		return fmt.Errorf("monitor schedule %q: %w", m.cfg.Schedule, err)
	}
	m.cron = c
	c.Start()
	slog.Info("monitor started", "schedule", m.cfg.Schedule, "window", m.cfg.Window)
	return nil
}

// Stop stops scheduling and waits for a running check or ctx.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	select {
	case <-m.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics aggregates ledger records of the last window per (provider, feature).
func (m *Monitor) Metrics(ctx context.Context, window time.Duration) ([]usage.ProviderStats, error) {
	if window <= 0 {
		window = m.cfg.Window
	}
	stats, err := m.reader.Stats(ctx, m.now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("provider metrics: %w", err)
	}
	return stats, nil
}

// RunMetricsCheck alerts on error rate, latency and daily cost.
func (m *Monitor) RunMetricsCheck(ctx context.Context) {
	stats, err := m.Metrics(ctx, m.cfg.Window)
	if err != nil {
		slog.Error("metrics check failed", "error", err)
		return
	}

	for _, s := range stats {
		if s.TotalRequests >= m.cfg.MinRequests && s.ErrorRate() > m.cfg.ErrorRateThreshold {
			m.send(ctx, "error_rate:"+pairKey(s), alert.Alert{
				Severity: alert.SeverityCritical,
				Title:    "High provider error rate",
				Message:  fmt.Sprintf("%.1f%% of %d requests failed", s.ErrorRate()*100, s.TotalRequests),
				Provider: s.Provider,
				Feature:  s.Feature,
				Fields:   map[string]string{"last_error": s.LastError},
			})
		}
		if latency := time.Duration(s.AvgLatencyMs * float64(time.Millisecond)); s.TotalRequests > 0 && latency > m.cfg.LatencyThreshold {
			m.send(ctx, "latency:"+pairKey(s), alert.Alert{
				Severity: alert.SeverityWarning,
				Title:    "High provider latency",
				Message:  fmt.Sprintf("average latency %s over %d requests", latency.Round(time.Millisecond), s.TotalRequests),
				Provider: s.Provider,
				Feature:  s.Feature,
			})
		}
	}

	for _, b := range m.budgets.Statuses(ctx) {
		if b.SpentToday.GreaterThan(m.cfg.DailyCostThreshold) {
			m.send(ctx, "daily_cost:"+string(b.Provider), alert.Alert{
				Severity: alert.SeverityWarning,
				Title:    "High daily cost",
				Message:  fmt.Sprintf("$%s spent today", b.SpentToday.StringFixed(2)),
				Provider: b.Provider,
				Fields:   map[string]string{"threshold": "$" + m.cfg.DailyCostThreshold.StringFixed(2)},
			})
		}
	}
}

// CheckBudgetAlerts warns when a provider used BudgetAlertRatio of its monthly budget.
func (m *Monitor) CheckBudgetAlerts(ctx context.Context) {
	for _, b := range m.budgets.Statuses(ctx) {
		if !b.Limits.MonthlyBudget.IsPositive() {
			continue
		}
		pct := b.PercentOfMonth()
		if pct < m.cfg.BudgetAlertRatio*100 {
			continue
		}
		severity := alert.SeverityWarning
		if b.OverMonthly {
			severity = alert.SeverityCritical
		}
		m.send(ctx, "budget:"+string(b.Provider), alert.Alert{
			Severity: severity,
			Title:    "Monthly budget threshold reached",
			Message:  fmt.Sprintf("%.1f%% of the monthly budget used", pct),
			Provider: b.Provider,
			Fields: map[string]string{
				"spent":  "$" + b.SpentMonth.StringFixed(2),
				"budget": "$" + b.Limits.MonthlyBudget.StringFixed(2),
			},
		})
	}
}

// send delivers a unless key was sent within the cooldown.
func (m *Monitor) send(ctx context.Context, key string, a alert.Alert) {
	now := m.now()
	m.mu.Lock()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cfg.Cooldown {
		m.mu.Unlock()
		return
	}
	m.lastSent[key] = now
	m.mu.Unlock()

	a.At = now
	if err := m.notifier.Notify(ctx, a); err != nil {
		slog.Warn("monitor alert failed", "key", key, "error", err)
		m.mu.Lock()
		delete(m.lastSent, key)
		m.mu.Unlock()
	}
}

func pairKey(s usage.ProviderStats) string {
	return string(s.Provider) + ":" + string(s.Feature)
}
