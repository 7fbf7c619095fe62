package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"commission-engine/internal/commission"
	"commission-engine/internal/metrics"
	"commission-engine/internal/store"
	"commission-engine/internal/subscription"
	"commission-engine/pkg/models"

	"go.uber.org/zap"
)

// SubscriptionLookup получает текущий статус подписки профессионала
type SubscriptionLookup interface {
	Status(ctx context.Context, professionalID string) (subscription.Status, error)
}

// ProgramToggle сообщает, включена ли реферальная программа
type ProgramToggle interface {
	Enabled(ctx context.Context) (bool, error)
}

// Summary итог одного прогона проверки
type Summary struct {
	Checked   int `json:"checked"`
	Eligible  int `json:"eligible"`
	Cancelled int `json:"cancelled"`
	Errored   int `json:"errored"`
}

// VerificationJob переводит рефералы с истекшим испытательным сроком в eligible или cancelled
type VerificationJob struct {
	store         store.Store
	subscriptions SubscriptionLookup
	toggle        ProgramToggle
	metrics       *metrics.Metrics
	batchSize     int
	lookupTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time

	// mu не дает ручному запуску из админки пересечься с плановым
	mu sync.Mutex
}

// NewVerificationJob создает задачу проверки испытательного срока
func NewVerificationJob(
	st store.Store,
	subscriptions SubscriptionLookup,
	toggle ProgramToggle,
	m *metrics.Metrics,
	batchSize int,
	lookupTimeout time.Duration,
	logger *zap.Logger,
) *VerificationJob {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &VerificationJob{
		store:         st,
		subscriptions: subscriptions,
		toggle:        toggle,
		metrics:       m,
		batchSize:     batchSize,
		lookupTimeout: lookupTimeout,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник текущего времени
func (j *VerificationJob) SetClock(now func() time.Time) {
	j.now = now
}

func (j *VerificationJob) Name() string { return "referral_verification" }

// Run запускает проверку в составе планировщика
func (j *VerificationJob) Run(ctx context.Context) error {
	_, err := j.RunOnce(ctx)
	return err
}

// RunOnce проверяет все рефералы с истекшим испытательным сроком.
// Ошибка по одному рефералу не прерывает прогон, реферал будет проверен в следующий раз.
func (j *VerificationJob) RunOnce(ctx context.Context) (Summary, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var summary Summary

	enabled, err := j.toggle.Enabled(ctx)
	if err != nil {
		return summary, fmt.Errorf("ошибка проверки статуса программы: %w", err)
	}
	if !enabled {
		j.logger.Info("реферальная программа отключена, проверка пропущена")
		return summary, nil
	}

	started := time.Now()
	now := j.now()
	j.logger.Info("запуск проверки испытательного срока", zap.Time("now", now))

	due, err := j.store.Referral().ListDueForVerification(ctx, now, j.batchSize)
	if err != nil {
		return summary, fmt.Errorf("ошибка получения рефералов для проверки: %w", err)
	}

	touched := make(map[string]struct{})
	for _, ref := range due {
		if ctx.Err() != nil {
			break
		}
		summary.Checked++

		outcome, err := j.verify(ctx, ref, now)
		if err != nil {
			summary.Errored++
			j.logger.Error("ошибка проверки реферала",
				zap.Error(err),
				zap.String("referral_id", ref.ID),
				zap.String("referrer_id", ref.ReferrerID))
			continue
		}

		switch outcome {
		case models.ReferralStatusEligible:
			summary.Eligible++
		case models.ReferralStatusCancelled:
			summary.Cancelled++
		default:
			continue
		}
		touched[ref.ReferrerID] = struct{}{}
	}

	for referrerID := range touched {
		if _, err := j.store.Referrer().RecomputeStats(ctx, referrerID, now); err != nil {
			j.logger.Error("ошибка пересчета статистики реферера",
				zap.Error(err),
				zap.String("referrer_id", referrerID))
		}
	}

	j.metrics.RecordVerificationRun(summary.Eligible, summary.Cancelled, summary.Errored,
		time.Since(started).Seconds(), j.now().Unix())

	j.logger.Info("проверка испытательного срока завершена",
		zap.Int("checked", summary.Checked),
		zap.Int("eligible", summary.Eligible),
		zap.Int("cancelled", summary.Cancelled),
		zap.Int("errored", summary.Errored))

	return summary, ctx.Err()
}

// verify возвращает новый статус реферала или пустую строку, если реферал уже обработан
func (j *VerificationJob) verify(ctx context.Context, ref *models.Referral, now time.Time) (models.ReferralStatus, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, j.lookupTimeout)
	status, err := j.subscriptions.Status(lookupCtx, ref.ReferredProID)
	cancel()
	if err != nil {
		return "", fmt.Errorf("ошибка получения статуса подписки: %w", err)
	}

	if status.Keeps() {
		amount := commission.Commission(ref.BaseAmount, ref.CommissionRateBps)
		if err := j.store.Referral().MarkEligible(ctx, ref.ID, amount, now); err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				return "", nil
			}
			return "", fmt.Errorf("ошибка перевода реферала в eligible: %w", err)
		}

		j.logger.Info("реферал прошел испытательный срок",
			zap.String("referral_id", ref.ID),
			zap.String("referrer_id", ref.ReferrerID),
			zap.String("commission_amount", amount.String()))
		return models.ReferralStatusEligible, nil
	}

	note := fmt.Sprintf("подписка в статусе %s на момент проверки", status)
	if err := j.store.Referral().MarkCancelled(ctx, ref.ID, note, now); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return "", nil
		}
		return "", fmt.Errorf("ошибка отмены реферала: %w", err)
	}

	j.logger.Info("реферал отменен по результату проверки",
		zap.String("referral_id", ref.ID),
		zap.String("referrer_id", ref.ReferrerID),
		zap.String("subscription_status", string(status)))
	return models.ReferralStatusCancelled, nil
}
