package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: 1}, f.err
}

func TestTelegramSend(t *testing.T) {
	sender := &fakeSender{}
	ch := NewTelegram(sender, zerolog.Nop())

	require.NoError(t, ch.Send(context.Background(), testNotification()))
	require.Len(t, sender.sent, 1)

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.EqualValues(t, 42, msg.ChatID)
	assert.Contains(t, msg.Text, "standup in 10 minutes")
}

func TestTelegramMissingRecipient(t *testing.T) {
	ch := NewTelegram(&fakeSender{}, zerolog.Nop())

	n := testNotification()
	n.RecipientID = 0

	var verr *ValidationError
	assert.ErrorAs(t, ch.Send(context.Background(), n), &verr)
}

func TestTelegramClassify(t *testing.T) {
	ch := NewTelegram(nil, zerolog.Nop())

	err := ch.classify(&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}})
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)

	var aerr *AuthError
	assert.ErrorAs(t, ch.classify(&tgbotapi.Error{Code: 401, Message: "Unauthorized"}), &aerr)

	var verr *ValidationError
	assert.ErrorAs(t, ch.classify(&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}), &verr)

	var terr *TransientError
	assert.ErrorAs(t, ch.classify(&tgbotapi.Error{Code: 502, Message: "Bad Gateway"}), &terr)
	assert.ErrorAs(t, ch.classify(errors.New("connection reset")), &terr)
}
