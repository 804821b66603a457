// Package notify delivers operator notifications for portfolio events.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/tillerbot/tiller/internal/domain"
)

// TelegramNotifier sends messages to a single operator chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramNotifier creates a notifier bound to the given chat. It fails if
// the token is rejected by the Telegram API.
func NewTelegramNotifier(token string, chatID int64, log zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		log:    log.With().Str("component", "telegram").Logger(),
	}, nil
}

// Send delivers a plain-text message. Delivery failures are returned so the
// caller can decide whether they matter; callers in this system log and
// continue.
func (n *TelegramNotifier) Send(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, message)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	n.log.Debug().Int("length", len(message)).Msg("Notification sent")
	return nil
}

var _ domain.Notifier = (*TelegramNotifier)(nil)

// NopNotifier discards all messages. Used when Telegram is not configured.
type NopNotifier struct{}

// Send implements domain.Notifier.
func (NopNotifier) Send(context.Context, string) error { return nil }
