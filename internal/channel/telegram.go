package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"notisync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSender is the subset of the bot API the channel needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers notifications as direct messages; the recipient id
// doubles as the chat id.
type Telegram struct {
	sender TelegramSender
	logger zerolog.Logger
}

func NewTelegram(sender TelegramSender, logger zerolog.Logger) *Telegram {
	return &Telegram{
		sender: sender,
		logger: logger.With().Str("channel", "telegram").Logger(),
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, n *models.QueuedNotification) error {
	if n.RecipientID == 0 {
		return &ValidationError{Message: "recipient id is required for telegram delivery"}
	}

	text := n.Payload.Body
	if n.Payload.Title != "" {
		text = fmt.Sprintf("*%s*\n%s", escapeMarkdown(n.Payload.Title), n.Payload.Body)
	}
	if text == "" {
		return &ValidationError{Message: "payload body is empty"}
	}

	if err := ctx.Err(); err != nil {
		return &TransientError{Message: err.Error()}
	}

	msg := tgbotapi.NewMessage(n.RecipientID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	_, err := t.sender.Send(msg)
	if err != nil {
		return t.classify(err)
	}
	return nil
}

// classify maps bot API failures onto the channel error taxonomy.
func (t *Telegram) classify(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		switch {
		case tgErr.RetryAfter > 0:
			return &RateLimitError{RetryAfter: time.Duration(tgErr.RetryAfter) * time.Second}
		case tgErr.Code == http.StatusUnauthorized || tgErr.Code == http.StatusForbidden:
			return &AuthError{Code: tgErr.Code, Message: tgErr.Message}
		case tgErr.Code == http.StatusBadRequest:
			return &ValidationError{Message: tgErr.Message}
		case tgErr.Code >= 500:
			return &TransientError{Code: tgErr.Code, Message: tgErr.Message}
		}
	}
	return &TransientError{Message: err.Error()}
}

func escapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
