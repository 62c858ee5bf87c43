// Package alert delivers operational alerts to operator channels. Delivery is best-effort:
// notifier errors are logged by the Dispatcher and never reach request handling.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"aigateway/internal/core"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Severity Severity
	Title    string
	Message  string
	Provider core.ProviderID
	Feature  core.Feature
	// Fields are rendered as "key: value" lines in sorted key order.
	Fields map[string]string
	At     time.Time
}

// Text renders the alert as Slack mrkdwn.
func (a Alert) Text() string {
	return a.render(func(s string) string { return s })
}

// render lays out the alert, passing every dynamic part through esc.
func (a Alert) render(esc func(string) string) string {
	var b strings.Builder
	icon := "⚠️"
	if a.Severity == SeverityCritical {
		icon = "🚨"
	}
	fmt.Fprintf(&b, "%s *%s*\n", icon, esc(a.Title))
	if a.Message != "" {
		b.WriteString(esc(a.Message))
		b.WriteByte('\n')
	}
	if a.Provider != "" {
		fmt.Fprintf(&b, "provider: `%s`\n", esc(string(a.Provider)))
	}
	if a.Feature != "" {
		fmt.Fprintf(&b, "feature: `%s`\n", esc(string(a.Feature)))
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", esc(k), esc(a.Fields[k]))
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	fmt.Fprintf(&b, "_%s_", esc(at.UTC().Format(time.RFC3339)))
	return b.String()
}

// Notifier pushes an alert to one operator channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}
