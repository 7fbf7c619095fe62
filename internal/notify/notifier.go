// Package notify отправляет уведомления администраторам программы
package notify

import (
	"context"
	"fmt"
	"html"

	"commission-engine/pkg/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier уведомляет администраторов о событиях, требующих ручного решения.
// Ошибки доставки только логируются.
type Notifier interface {
	VerificationSubmitted(ctx context.Context, v *models.SocialVerification, referrer *models.Referrer)
	PayoutRequested(ctx context.Context, p *models.Payout, referrer *models.Referrer)
	PayoutFailed(ctx context.Context, p *models.Payout)
}

// Sender отправляет сообщение в Telegram, его реализует *tgbotapi.BotAPI
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет уведомления в чат администраторов
type Telegram struct {
	sender Sender
	chatID int64
	logger *zap.Logger
}

// NewTelegram создает уведомления через Telegram
func NewTelegram(sender Sender, chatID int64, logger *zap.Logger) *Telegram {
	return &Telegram{
		sender: sender,
		chatID: chatID,
		logger: logger,
	}
}

// NewTelegramFromToken создает бота по токену
func NewTelegramFromToken(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram бота: %w", err)
	}

	logger.Info("уведомления администраторов через Telegram", zap.String("bot", bot.Self.UserName))
	return NewTelegram(bot, chatID, logger), nil
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.sender.Send(msg); err != nil {
		t.logger.Error("ошибка отправки уведомления администраторам", zap.Error(err))
	}
}

// VerificationSubmitted сообщает о новой публикации на проверку
func (t *Telegram) VerificationSubmitted(_ context.Context, v *models.SocialVerification, referrer *models.Referrer) {
	t.send(fmt.Sprintf("📣 <b>Публикация на проверку</b>\nРеферер: %s (%s)\nСоцсеть: %s\nСсылка: %s\nID: <code>%s</code>",
		html.EscapeString(referrer.Name), html.EscapeString(referrer.Email),
		html.EscapeString(v.Platform), html.EscapeString(v.PostURL), v.ID))
}

// PayoutRequested сообщает о новой заявке на выплату
func (t *Telegram) PayoutRequested(_ context.Context, p *models.Payout, referrer *models.Referrer) {
	t.send(fmt.Sprintf("💸 <b>Заявка на выплату</b>\nРеферер: %s (%s)\nСумма: %s %s\nК перечислению: %s %s\nСпособ: %s\nID: <code>%s</code>",
		html.EscapeString(referrer.Name), html.EscapeString(referrer.Email),
		p.RequestedAmount.String(), p.Currency, p.NetAmount.String(), p.Currency, p.Method, p.ID))
}

// PayoutFailed сообщает о неуспешном переводе
func (t *Telegram) PayoutFailed(_ context.Context, p *models.Payout) {
	code, reason := "", ""
	if p.FailureCode != nil {
		code = *p.FailureCode
	}
	if p.FailureReason != nil {
		reason = *p.FailureReason
	}

	t.send(fmt.Sprintf("⚠️ <b>Выплата не прошла</b>\nID: <code>%s</code>\nКод: %s\nПричина: %s\nТребуется решение администратора",
		p.ID, html.EscapeString(code), html.EscapeString(reason)))
}

// Nop ничего не отправляет
type Nop struct{}

func (Nop) VerificationSubmitted(context.Context, *models.SocialVerification, *models.Referrer) {}
func (Nop) PayoutRequested(context.Context, *models.Payout, *models.Referrer)                   {}
func (Nop) PayoutFailed(context.Context, *models.Payout)                                        {}
