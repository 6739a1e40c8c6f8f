package notify

import (
	"context"
	"fmt"

	"wallet-engine/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageSender is the part of the bot API the notifier needs
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends events as chat messages
type Telegram struct {
	bot    MessageSender
	chatID int64
}

// NewTelegram connects a bot with token and sends to chatID
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, chatID), nil
}

// NewTelegramWithSender builds the notifier on an existing sender
func NewTelegramWithSender(bot MessageSender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, event.Text())
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		metrics.NotificationsSent.WithLabelValues("telegram", "error").Inc()
		return fmt.Errorf("telegram send failed: %w", err)
	}
	metrics.NotificationsSent.WithLabelValues("telegram", "ok").Inc()
	return nil
}
