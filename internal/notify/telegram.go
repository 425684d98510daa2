// Package notify delivers alerts to chat services.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"strategy-core/internal/monitor"
)

const maxMessageLength = 4096

// Telegram sends alerts to a single chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *zap.Logger
}

var _ monitor.AlertSink = (*Telegram)(nil)

// NewTelegram authorizes the bot against the public Bot API.
func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, chatID, tgbotapi.APIEndpoint, log)
}

// NewTelegramWithEndpoint is NewTelegram against a custom endpoint format,
// e.g. a local Bot API server.
func NewTelegramWithEndpoint(token string, chatID int64, endpoint string, log *zap.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram: token and chat id are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Telegram{api: api, chatID: chatID, log: log.With(zap.String("component", "telegram"))}, nil
}

// Send posts message, split into chunks the API accepts. Plain text only:
// job errors are not valid Markdown.
func (t *Telegram) Send(ctx context.Context, message string) error {
	for _, chunk := range splitMessage(message, maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitMessage cuts text into pieces of at most maxLength runes.
func splitMessage(text string, maxLength int) []string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return []string{text}
	}
	var out []string
	for len(runes) > 0 {
		n := maxLength
		if len(runes) < n {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
