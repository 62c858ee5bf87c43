package alert

import (
	"context"
	"log/slog"
)

// LogNotifier writes alerts to slog. It is always part of the notifier chain.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier logging to logger, or slog.Default when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	level := slog.LevelWarn
	if a.Severity == SeverityCritical {
		level = slog.LevelError
	}
	attrs := []any{
		"title", a.Title,
		"message", a.Message,
		"severity", string(a.Severity),
	}
	if a.Provider != "" {
		attrs = append(attrs, "provider", a.Provider)
	}
	if a.Feature != "" {
		attrs = append(attrs, "feature", a.Feature)
	}
	for k, v := range a.Fields {
		attrs = append(attrs, k, v)
	}
	n.logger.Log(ctx, level, "operational alert", attrs...)
	return nil
}
