// Package payout проводит выплаты реферерам: проверка запроса, решение администратора, перевод
package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commission-engine/internal/commission"
	"commission-engine/internal/metrics"
	"commission-engine/internal/notify"
	"commission-engine/internal/rail"
	"commission-engine/internal/store"
	"commission-engine/pkg/models"
	"commission-engine/pkg/money"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RailProvider возвращает платежную систему для способа выплаты
type RailProvider interface {
	Get(method models.PayoutMethod) (rail.Rail, error)
}

// FeeQuoter рассчитывает комиссии выплаты
type FeeQuoter interface {
	PayoutFees(amount money.Cents, method models.PayoutMethod, country string) (commission.Quote, error)
}

// Options бизнес-параметры выплат
type Options struct {
	MinPayout   money.Cents
	RailTimeout time.Duration
}

// AccountSetup результат подключения счета для выплат
type AccountSetup struct {
	Method        models.PayoutMethod `json:"method"`
	AccountID     string              `json:"account_id"`
	OnboardingURL string              `json:"onboarding_url"`
}

// Service проводит выплаты
type Service struct {
	store    store.Store
	rails    RailProvider
	fees     FeeQuoter
	notifier notify.Notifier
	metrics  *metrics.Metrics
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создает новый сервис выплат
func NewService(st store.Store, rails RailProvider, fees FeeQuoter, notifier notify.Notifier, m *metrics.Metrics, opts Options, logger *zap.Logger) *Service {
	if opts.RailTimeout <= 0 {
		opts.RailTimeout = 30 * time.Second
	}
	return &Service{
		store:    st,
		rails:    rails,
		fees:     fees,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetupPayoutAccount создает счет в платежной системе, если его нет, и возвращает ссылку на заполнение данных
func (s *Service) SetupPayoutAccount(ctx context.Context, referrerID string, method models.PayoutMethod) (*AccountSetup, error) {
	if !method.IsValid() {
		return nil, models.ErrUnsupportedMethod
	}
	r, err := s.rails.Get(method)
	if err != nil {
		return nil, err
	}

	referrer, err := s.store.Referrer().GetByID(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферера: %w", err)
	}
	if referrer.Status != models.AccountStatusActive {
		return nil, models.ErrReferrerInactive
	}

	var accountID string
	if referrer.PayoutMethod != nil && *referrer.PayoutMethod == method && referrer.PayoutAccountID != nil {
		accountID = *referrer.PayoutAccountID
	} else {
		accountID, err = r.CreateAccount(ctx, rail.AccountRequest{
			ReferrerID: referrer.ID,
			Email:      referrer.Email,
			Country:    referrer.Country,
		})
		if err != nil {
			return nil, fmt.Errorf("ошибка создания счета в платежной системе: %w", err)
		}
		if err := s.store.Referrer().UpdatePayoutAccount(ctx, referrer.ID, method, accountID, s.now()); err != nil {
			return nil, fmt.Errorf("ошибка сохранения счета для выплат: %w", err)
		}

		s.logger.Info("подключен счет для выплат",
			zap.String("referrer_id", referrer.ID),
			zap.String("method", string(method)))
	}

	link, err := r.CreateOnboardingLink(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания ссылки на подключение счета: %w", err)
	}

	return &AccountSetup{Method: method, AccountID: accountID, OnboardingURL: link}, nil
}

// RequestPayout создает запрос на выплату из доступного баланса.
// Выплата закрывает целые рефералы: сумма должна совпасть с суммой самых старых доступных комиссий.
func (s *Service) RequestPayout(ctx context.Context, referrerID string, req models.PayoutRequest) (*models.Payout, error) {
	if req.Amount < s.opts.MinPayout {
		return nil, models.ErrBelowMinimum.WithMessage(fmt.Sprintf("минимальная сумма выплаты %s", s.opts.MinPayout))
	}
	proofURL := strings.TrimSpace(req.SocialProofURL)
	if proofURL == "" {
		return nil, models.ErrMissingSocialProof
	}

	referrer, err := s.store.Referrer().GetByID(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферера: %w", err)
	}
	if referrer.Status != models.AccountStatusActive {
		return nil, models.ErrReferrerInactive
	}
	if !referrer.SocialVerified {
		return nil, models.ErrMissingSocialProof
	}
	verification, err := s.store.Verification().LatestApproved(ctx, referrerID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrMissingSocialProof
		}
		return nil, fmt.Errorf("ошибка получения подтвержденной публикации: %w", err)
	}

	method := req.Method
	if method == "" && referrer.PayoutMethod != nil {
		method = *referrer.PayoutMethod
	}
	if !method.IsValid() {
		return nil, models.ErrUnsupportedMethod
	}
	if _, err := s.rails.Get(method); err != nil {
		return nil, err
	}

	claimable, err := s.store.Referral().ListClaimable(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения доступных рефералов: %w", err)
	}
	referralIDs, err := settle(claimable, req.Amount)
	if err != nil {
		return nil, err
	}

	quote, err := s.fees.PayoutFees(req.Amount, method, referrer.Country)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &models.Payout{
		ID:                   uuid.NewString(),
		ReferrerID:           referrerID,
		RequestedAmount:      quote.Gross,
		Currency:             referrer.Currency,
		PlatformFee:          quote.PlatformFee,
		ProcessingFee:        quote.ProcessingFee,
		NetAmount:            quote.Net,
		Method:               method,
		ReferralIDs:          referralIDs,
		Status:               models.PayoutStatusPending,
		SocialProofURL:       proofURL,
		SocialVerificationID: &verification.ID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.store.Payout().CreateWithClaims(ctx, p); err != nil {
		if errors.Is(err, models.ErrReferralClaimed) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка создания выплаты: %w", err)
	}

	s.logger.Info("создан запрос на выплату",
		zap.String("payout_id", p.ID),
		zap.String("referrer_id", referrerID),
		zap.String("requested_amount", p.RequestedAmount.String()),
		zap.String("net_amount", p.NetAmount.String()),
		zap.String("method", string(method)),
		zap.Int("referrals", len(referralIDs)))

	s.metrics.RecordPayoutTransition(string(p.Status))
	s.recompute(ctx, referrerID)
	s.notifier.PayoutRequested(ctx, p, referrer)

	return p, nil
}

// settleSearchBudget ограничивает перебор подмножеств при подборе рефералов
const settleSearchBudget = 100000

// settle подбирает доступные рефералы, сумма комиссий которых равна amount.
// Сначала пробуется префикс самых старых, затем любое подмножество с приоритетом старых.
func settle(claimable []*models.Referral, amount money.Cents) ([]string, error) {
	var available money.Cents
	for _, ref := range claimable {
		available += ref.CommissionAmount
	}
	if amount > available {
		return nil, models.ErrInsufficientBalance.WithMessage(fmt.Sprintf("доступно к выплате %s", available))
	}

	var (
		sum  money.Cents
		ids  []string
		over money.Cents
	)
	for _, ref := range claimable {
		next := sum + ref.CommissionAmount
		if next > amount {
			over = next
			break
		}
		sum = next
		ids = append(ids, ref.ID)
		if sum == amount {
			return ids, nil
		}
	}

	if picked := settleSubset(claimable, amount); picked != nil {
		return picked, nil
	}
	return nil, models.ErrAmountNotSettleable.WithMessage(
		fmt.Sprintf("сумма %s не совпадает с суммой целых комиссий, ближайшие доступные суммы: %s и %s", amount, sum, over))
}

// settleSubset ищет подмножество рефералов с суммой amount.
// Перебор идет в порядке claimable, поэтому из равных вариантов выбираются более старые рефералы.
func settleSubset(claimable []*models.Referral, amount money.Cents) []string {
	// suffix[i] - сумма комиссий claimable[i:]
	suffix := make([]money.Cents, len(claimable)+1)
	for i := len(claimable) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + claimable[i].CommissionAmount
	}

	var (
		picked []int
		budget = settleSearchBudget
	)
	var walk func(i int, sum money.Cents) bool
	walk = func(i int, sum money.Cents) bool {
		if sum == amount {
			return true
		}
		budget--
		if i == len(claimable) || budget <= 0 || sum+suffix[i] < amount {
			return false
		}
		if next := sum + claimable[i].CommissionAmount; next <= amount {
			picked = append(picked, i)
			if walk(i+1, next) {
				return true
			}
			picked = picked[:len(picked)-1]
		}
		return walk(i+1, sum)
	}

	if !walk(0, 0) {
		return nil
	}

	ids := make([]string, 0, len(picked))
	for _, i := range picked {
		ids = append(ids, claimable[i].ID)
	}
	return ids
}

// ReviewPayout фиксирует решение администратора по выплате
func (s *Service) ReviewPayout(ctx context.Context, id string, action models.PayoutAction, reviewer, reason string) (*models.Payout, error) {
	var (
		p   *models.Payout
		err error
	)
	now := s.now()

	switch action {
	case models.PayoutActionApprove:
		p, err = s.store.Payout().Approve(ctx, id, reviewer, reason, now)
	case models.PayoutActionReject:
		p, err = s.store.Payout().Release(ctx, id, models.PayoutStatusPending, reviewer, reason, now)
	case models.PayoutActionCancel:
		// Отмена после неуспешного перевода возвращает рефералы в доступный баланс
		p, err = s.store.Payout().Release(ctx, id, models.PayoutStatusFailed, reviewer, reason, now)
	default:
		return nil, models.ErrInvalidInput.WithMessage(fmt.Sprintf("неизвестное действие %q", action))
	}
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка рассмотрения выплаты: %w", err)
	}

	s.logger.Info("выплата рассмотрена",
		zap.String("payout_id", id),
		zap.String("referrer_id", p.ReferrerID),
		zap.String("action", string(action)),
		zap.String("status", string(p.Status)),
		zap.String("reviewer", reviewer))

	s.metrics.RecordPayoutTransition(string(p.Status))
	s.recompute(ctx, p.ReferrerID)
	return p, nil
}

// ExecutePayout переводит чистую сумму одобренной выплаты на счет реферера.
// Попытка перевода выполняется не более одного раза, неуспешная выплата не повторяется автоматически.
func (s *Service) ExecutePayout(ctx context.Context, id string) (*models.Payout, error) {
	p, err := s.store.Payout().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплаты: %w", err)
	}
	if p.ExecutionStarted() {
		return nil, models.ErrAlreadyExecuted
	}
	if p.Status != models.PayoutStatusApproved {
		return nil, models.ErrNotApproved
	}

	referrer, err := s.store.Referrer().GetByID(ctx, p.ReferrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферера: %w", err)
	}
	if referrer.PayoutAccountID == nil || referrer.PayoutMethod == nil || *referrer.PayoutMethod != p.Method {
		return nil, models.ErrPayoutAccountMissing
	}
	r, err := s.rails.Get(p.Method)
	if err != nil {
		return nil, err
	}

	// Дальше отмена запроса не должна оставить выплату в processing
	ctx = context.WithoutCancel(ctx)

	p, err = s.store.Payout().BeginExecution(ctx, id, s.now())
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return nil, models.ErrAlreadyExecuted
		}
		return nil, fmt.Errorf("ошибка начала исполнения выплаты: %w", err)
	}
	s.metrics.RecordPayoutTransition(string(p.Status))

	transferCtx, cancel := context.WithTimeout(ctx, s.opts.RailTimeout)
	transferID, transferErr := r.CreateTransfer(transferCtx, rail.TransferRequest{
		PayoutID:    p.ID,
		AccountID:   *referrer.PayoutAccountID,
		Amount:      p.NetAmount,
		Currency:    p.Currency,
		Description: fmt.Sprintf("Реферальная комиссия, выплата %s", p.ID),
	})
	cancel()

	if transferErr != nil {
		return s.fail(ctx, p, transferErr)
	}

	completed, err := s.store.Payout().CompleteExecution(ctx, id, transferID, s.now())
	if err != nil {
		// Деньги переведены, но журнал не обновлен: нужна ручная сверка
		s.logger.Error("перевод выполнен, но выплата не отмечена как завершенная",
			zap.Error(err),
			zap.String("payout_id", id),
			zap.String("transfer_id", transferID))
		return nil, fmt.Errorf("ошибка завершения выплаты %s с переводом %s: %w", id, transferID, err)
	}

	s.logger.Info("выплата исполнена",
		zap.String("payout_id", id),
		zap.String("referrer_id", completed.ReferrerID),
		zap.String("transfer_id", transferID),
		zap.String("net_amount", completed.NetAmount.String()))

	s.metrics.RecordPayoutTransition(string(completed.Status))
	s.recompute(ctx, completed.ReferrerID)
	return completed, nil
}

// fail отмечает выплату как неуспешную. Рефералы остаются закрепленными за выплатой до решения администратора.
func (s *Service) fail(ctx context.Context, p *models.Payout, transferErr error) (*models.Payout, error) {
	code := models.FailureCodeRailError
	var railErr *rail.Error
	if errors.As(transferErr, &railErr) && railErr.Code != "" {
		code = railErr.Code
	}
	if rail.IsUnknown(transferErr) {
		code = models.FailureCodeUnknownOutcome
	}

	failed, err := s.store.Payout().FailExecution(ctx, p.ID, code, transferErr.Error(), s.now())
	if err != nil {
		return nil, fmt.Errorf("ошибка фиксации неуспешной выплаты: %w", err)
	}

	s.logger.Error("ошибка перевода по выплате",
		zap.Error(transferErr),
		zap.String("payout_id", p.ID),
		zap.String("referrer_id", p.ReferrerID),
		zap.String("failure_code", code))

	s.metrics.RecordPayoutTransition(string(failed.Status))
	s.notifier.PayoutFailed(ctx, failed)
	return failed, nil
}

// GetPayout возвращает выплату по идентификатору
func (s *Service) GetPayout(ctx context.Context, id string) (*models.Payout, error) {
	p, err := s.store.Payout().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплаты: %w", err)
	}
	return p, nil
}

// ListPayouts возвращает выплаты по фильтру
func (s *Service) ListPayouts(ctx context.Context, filter models.PayoutFilter) ([]*models.Payout, error) {
	payouts, err := s.store.Payout().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплат: %w", err)
	}
	return payouts, nil
}

func (s *Service) recompute(ctx context.Context, referrerID string) {
	if _, err := s.store.Referrer().RecomputeStats(ctx, referrerID, s.now()); err != nil {
		s.logger.Error("ошибка пересчета статистики реферера",
			zap.Error(err),
			zap.String("referrer_id", referrerID))
	}
}
