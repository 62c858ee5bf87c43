package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"aigateway/internal/alert"
	"aigateway/internal/core"
)

// Alerter notifies operators when a streak reaches the threshold.
type Alerter struct {
	tracker   Tracker
	notifier  alert.Notifier
	threshold int
}

// NewAlerter creates an Alerter. A threshold below 1 is treated as 1.
func NewAlerter(tracker Tracker, notifier alert.Notifier, threshold int) *Alerter {
	return &Alerter{
		tracker:   tracker,
		notifier:  notifier,
		threshold: max(threshold, 1),
	}
}

// Threshold is the streak length that triggers an alert.
func (a *Alerter) Threshold() int {
	return a.threshold
}

// CheckAndAlert sends at most one alert per unresolved streak. Notifier failures are
// logged and never returned.
func (a *Alerter) CheckAndAlert(ctx context.Context, p core.ProviderID, f core.Feature) {
	if err := a.Task(p, f)(ctx); err != nil {
		slog.Warn("health alert not delivered", "provider", p, "feature", f, "error", err)
	}
}

// Task returns the check as a unit of work for alert.Dispatcher.
func (a *Alerter) Task(p core.ProviderID, f core.Feature) alert.Task {
	return func(ctx context.Context) error {
		st := a.tracker.State(ctx, p, f)
		if st.ConsecutiveFailures < a.threshold {
			return nil
		}
		if !a.tracker.ClaimAlert(ctx, p, f) {
			return nil
		}

		err := a.notifier.Notify(ctx, alert.Alert{
			Severity: alert.SeverityCritical,
			Title:    "AI provider failing",
			Message:  fmt.Sprintf("%d consecutive failures", st.ConsecutiveFailures),
			Provider: p,
			Feature:  f,
			At:       time.Now(),
		})
		if err != nil {
			// Let the next failure of this streak retry delivery.
			a.tracker.ReleaseAlert(ctx, p, f)
			return fmt.Errorf("notify %s: %w", a.notifier.Name(), err)
		}
		return nil
	}
}
