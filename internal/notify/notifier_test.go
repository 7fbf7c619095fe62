package notify

import (
	"context"
	"errors"
	"testing"

	"commission-engine/pkg/models"
	"commission-engine/pkg/money"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramPayoutRequested(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegram(sender, 42, zap.NewNop())

	n.PayoutRequested(context.Background(), &models.Payout{
		ID:              "p-1",
		RequestedAmount: money.Cents(2000),
		NetAmount:       money.Cents(1975),
		Currency:        "USD",
		Method:          models.PayoutMethodStripe,
	}, &models.Referrer{Name: "<Anna>", Email: "anna@example.com"})

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "20.00 USD")
	assert.Contains(t, msg.Text, "19.75 USD")
	assert.Contains(t, msg.Text, "&lt;Anna&gt;")
}

func TestTelegramPayoutFailed(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegram(sender, 42, zap.NewNop())

	code, reason := models.FailureCodeUnknownOutcome, "timeout"
	n.PayoutFailed(context.Background(), &models.Payout{ID: "p-1", FailureCode: &code, FailureReason: &reason})

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "unknown_outcome")
}

func TestTelegramSendErrorIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	n := NewTelegram(sender, 42, zap.NewNop())

	assert.NotPanics(t, func() {
		n.VerificationSubmitted(context.Background(),
			&models.SocialVerification{ID: "v-1", Platform: "linkedin", PostURL: "https://linkedin.com/p/1"},
			&models.Referrer{Name: "Anna"})
	})
	assert.Len(t, sender.sent, 1)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	n.PayoutFailed(context.Background(), &models.Payout{})
}
