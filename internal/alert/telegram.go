package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// telegramMaxMessageRunes caps the free-text part so the escaped message stays under the
// Bot API limit of 4096 characters without cutting through an entity.
const telegramMaxMessageRunes = 1500

// TelegramNotifier sends alerts to one chat through the Bot API.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID int64
}

// NewTelegramNotifier creates the notifier. The token is not verified at startup.
func NewTelegramNotifier(token, chatID string, opts ...bot.Option) (*TelegramNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: b, chatID: id}, nil
}

func (n *TelegramNotifier) Name() string { return "telegram" }

func (n *TelegramNotifier) Notify(ctx context.Context, a Alert) error {
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      telegramText(a),
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// telegramText renders a for MarkdownV2, where reserved characters outside entities must
// be escaped.
func telegramText(a Alert) string {
	if r := []rune(a.Message); len(r) > telegramMaxMessageRunes {
		a.Message = string(r[:telegramMaxMessageRunes]) + "..."
	}
	return a.render(escapeMarkdownV2)
}

func escapeMarkdownV2(s string) string {
	return bot.EscapeMarkdown(strings.ReplaceAll(s, `\`, `\\`))
}
