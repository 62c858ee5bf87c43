package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackNotifier posts alerts to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
}

// NewSlackNotifier creates the notifier. channel may be empty to use the webhook default.
func NewSlackNotifier(webhookURL, channel string) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}
	return &SlackNotifier{webhookURL: webhookURL, channel: channel}, nil
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, a Alert) error {
	color := "warning"
	if a.Severity == SeverityCritical {
		color = "danger"
	}
	msg := &slack.WebhookMessage{
		Channel: n.channel,
		Text:    a.Title,
		Attachments: []slack.Attachment{{
			Color:      color,
			Text:       a.Text(),
			MarkdownIn: []string{"text"},
		}},
	}
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}
	return nil
}
