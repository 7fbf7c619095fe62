package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"commission-engine/internal/commission"
	"commission-engine/internal/compliance"
	"commission-engine/internal/metrics"
	"commission-engine/internal/notify"
	"commission-engine/internal/store"
	"commission-engine/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	codeLength      = 8
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxCodeAttempts = 10
)

// TokenIssuer выпускает токен доступа для нового реферера
type TokenIssuer interface {
	Issue(subjectID string, role models.Role) (string, error)
}

// Options бизнес-параметры жизненного цикла рефералов
type Options struct {
	BaseURL       string
	ProbationDays int
}

// Service управляет реферерами, атрибуцией рефералов и проверкой публикаций
type Service struct {
	store    store.Store
	rates    compliance.Lookup
	tokens   TokenIssuer
	notifier notify.Notifier
	metrics  *metrics.Metrics
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создает новый сервис рефералов
func NewService(st store.Store, rates compliance.Lookup, tokens TokenIssuer, notifier notify.Notifier, m *metrics.Metrics, opts Options, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		rates:    rates,
		tokens:   tokens,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register регистрирует нового реферера и выдает ему реферальный код
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, models.ErrInvalidInput.WithMessage("имя обязательно")
	}
	country, err := normalizeCountry(req.Country, true)
	if err != nil {
		return nil, err
	}

	tier, rate := s.rates.RateFor(country)
	now := s.now()

	referrer := &models.Referrer{
		ID:                uuid.NewString(),
		Email:             email,
		Name:              name,
		Country:           country,
		Currency:          compliance.CurrencyFor(country),
		Status:            models.AccountStatusActive,
		CommissionTier:    string(tier),
		CommissionRateBps: rate,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Генерируем уникальный код с проверкой
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("ошибка генерации реферального кода: %w", err)
		}
		referrer.ReferralCode = code

		err = s.store.Referrer().Create(ctx, referrer)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrCodeTaken) {
			s.logger.Warn("сгенерированный код уже существует, пробуем снова",
				zap.String("code", code),
				zap.Int("attempt", attempt+1))
			referrer.ReferralCode = ""
			continue
		}
		if errors.Is(err, models.ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка создания реферера: %w", err)
	}

	if referrer.ReferralCode == "" {
		return nil, fmt.Errorf("не удалось сгенерировать уникальный реферальный код после %d попыток", maxCodeAttempts)
	}

	token, err := s.tokens.Issue(referrer.ID, models.RoleViewer)
	if err != nil {
		return nil, fmt.Errorf("ошибка выпуска токена: %w", err)
	}

	s.logger.Info("зарегистрирован новый реферер",
		zap.String("referrer_id", referrer.ID),
		zap.String("country", country),
		zap.String("tier", string(tier)),
		zap.Int64("commission_rate_bps", rate))

	return &models.RegisterResult{
		ReferrerID:   referrer.ID,
		ReferralCode: referrer.ReferralCode,
		ReferralURL:  s.ReferralURL(referrer.ReferralCode),
		Token:        token,
	}, nil
}

// ReferralURL формирует реферальную ссылку
func (s *Service) ReferralURL(code string) string {
	return fmt.Sprintf("%s/r/%s", strings.TrimRight(s.opts.BaseURL, "/"), code)
}

// AttributeReferral создает реферал по событию регистрации профессионала с платной подпиской
func (s *Service) AttributeReferral(ctx context.Context, req models.TrackRequest) (*models.TrackResult, error) {
	result, err := s.attribute(ctx, req)
	switch {
	case err == nil:
		s.metrics.RecordReferralTracked("created")
	case errors.Is(err, models.ErrDuplicateReferral):
		s.metrics.RecordReferralTracked("duplicate")
	case errors.Is(err, models.ErrInvalidCode):
		s.metrics.RecordReferralTracked("invalid_code")
	default:
		s.metrics.RecordReferralTracked("error")
	}
	return result, err
}

func (s *Service) attribute(ctx context.Context, req models.TrackRequest) (*models.TrackResult, error) {
	code := strings.ToUpper(strings.TrimSpace(req.ReferralCode))
	if code == "" {
		return nil, models.ErrInvalidCode
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ProfessionalID) == "" || strings.TrimSpace(req.SubscriptionID) == "" {
		return nil, models.ErrInvalidInput.WithMessage("professional_id и subscription_id обязательны")
	}
	if req.SubscriptionAmount <= 0 {
		return nil, models.ErrInvalidInput.WithMessage("сумма подписки должна быть больше нуля")
	}
	country, err := normalizeCountry(req.Country, false)
	if err != nil {
		return nil, err
	}

	referrer, err := s.store.Referrer().GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidCode
		}
		return nil, fmt.Errorf("ошибка получения реферера по коду: %w", err)
	}
	if referrer.Status != models.AccountStatusActive {
		return nil, models.ErrInvalidCode
	}

	// Единственная проверка на мошенничество при атрибуции: один живой реферал на email
	if _, err := s.store.Referral().FindLiveByEmail(ctx, email); err == nil {
		s.logger.Warn("повторная атрибуция email",
			zap.String("referral_code", code),
			zap.String("referrer_id", referrer.ID))
		return nil, models.ErrDuplicateReferral
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("ошибка проверки дубликата реферала: %w", err)
	}

	now := s.now()
	ref := &models.Referral{
		ID:                    uuid.NewString(),
		ReferrerID:            referrer.ID,
		ReferralCode:          code,
		ReferredProID:         strings.TrimSpace(req.ProfessionalID),
		ReferredProEmail:      email,
		SubscriptionID:        strings.TrimSpace(req.SubscriptionID),
		SubscriptionStartedAt: now,
		EligibleDate:          now.AddDate(0, 0, s.opts.ProbationDays),
		CommissionRateBps:     referrer.CommissionRateBps,
		BaseAmount:            req.SubscriptionAmount,
		CommissionAmount:      commission.Commission(req.SubscriptionAmount, referrer.CommissionRateBps),
		Currency:              referrer.Currency,
		Country:               country,
		Status:                models.ReferralStatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.store.Referral().Create(ctx, ref); err != nil {
		if errors.Is(err, models.ErrDuplicateReferral) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка создания реферала: %w", err)
	}

	s.logger.Info("создан новый реферал",
		zap.String("referral_id", ref.ID),
		zap.String("referrer_id", referrer.ID),
		zap.String("commission_amount", ref.CommissionAmount.String()),
		zap.Time("eligible_date", ref.EligibleDate))

	s.recompute(ctx, referrer.ID)

	return &models.TrackResult{
		ReferralID:       ref.ID,
		CommissionAmount: ref.CommissionAmount,
		EligibleDate:     ref.EligibleDate,
	}, nil
}

// Dashboard возвращает сводку реферера с пересчитанной статистикой
func (s *Service) Dashboard(ctx context.Context, referrerID string) (*models.Dashboard, error) {
	referrer, err := s.store.Referrer().GetByID(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферера: %w", err)
	}

	stats, err := s.RecomputeStats(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	referrer.Stats = *stats

	referrals, err := s.store.Referral().ListByReferrer(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", err)
	}
	payouts, err := s.store.Payout().ListByReferrer(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплат: %w", err)
	}
	verifications, err := s.store.Verification().ListByReferrer(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения публикаций: %w", err)
	}

	return &models.Dashboard{
		Referrer:      referrer,
		Stats:         *stats,
		Referrals:     nonNil(referrals),
		Payouts:       nonNil(payouts),
		Verifications: nonNil(verifications),
	}, nil
}

// SubmitSocialVerification принимает публикацию реферера на проверку
func (s *Service) SubmitSocialVerification(ctx context.Context, referrerID string, req models.VerificationRequest) (*models.SocialVerification, error) {
	referrer, err := s.store.Referrer().GetByID(ctx, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферера: %w", err)
	}
	if referrer.Status != models.AccountStatusActive {
		return nil, models.ErrReferrerInactive
	}

	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if !models.SupportedPlatforms[platform] {
		return nil, models.ErrInvalidInput.WithMessage(fmt.Sprintf("соцсеть %q не поддерживается", req.Platform))
	}
	postURL, err := normalizeURL(req.PostURL)
	if err != nil {
		return nil, err
	}

	v := &models.SocialVerification{
		ID:         uuid.NewString(),
		ReferrerID: referrerID,
		Platform:   platform,
		PostURL:    postURL,
		Status:     models.VerificationStatusPending,
		CreatedAt:  s.now(),
	}
	if strings.TrimSpace(req.ScreenshotURL) != "" {
		screenshot, err := normalizeURL(req.ScreenshotURL)
		if err != nil {
			return nil, err
		}
		v.ScreenshotURL = &screenshot
	}

	if err := s.store.Verification().Create(ctx, v); err != nil {
		return nil, fmt.Errorf("ошибка сохранения публикации: %w", err)
	}

	s.metrics.RecordSocialVerification(string(v.Status))
	s.notifier.VerificationSubmitted(ctx, v, referrer)

	return v, nil
}

// ReviewVerification фиксирует решение администратора по публикации.
// Первое одобрение отмечает реферера как прошедшего проверку.
func (s *Service) ReviewVerification(ctx context.Context, id, action, reviewer, note string) (*models.SocialVerification, error) {
	var status models.VerificationStatus
	switch action {
	case "approve":
		status = models.VerificationStatusApproved
	case "reject":
		status = models.VerificationStatusRejected
	default:
		return nil, models.ErrInvalidInput.WithMessage(fmt.Sprintf("неизвестное действие %q", action))
	}

	v, err := s.store.Verification().Review(ctx, id, status, reviewer, note, s.now())
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка рассмотрения публикации: %w", err)
	}

	if status == models.VerificationStatusApproved {
		if err := s.store.Referrer().MarkSocialVerified(ctx, v.ReferrerID, s.now()); err != nil {
			return nil, fmt.Errorf("ошибка отметки реферера: %w", err)
		}
	}

	s.metrics.RecordSocialVerification(string(status))
	s.logger.Info("публикация рассмотрена",
		zap.String("verification_id", id),
		zap.String("referrer_id", v.ReferrerID),
		zap.String("status", string(status)),
		zap.String("reviewer", reviewer))

	return v, nil
}

// referralTransitions допустимые ручные переходы: действие -> (исходные статусы, целевой статус)
var referralTransitions = map[models.ReferralAction]struct {
	from []models.ReferralStatus
	to   models.ReferralStatus
}{
	models.ReferralActionApprove:   {from: []models.ReferralStatus{models.ReferralStatusActive}, to: models.ReferralStatusEligible},
	models.ReferralActionCancel:    {from: []models.ReferralStatus{models.ReferralStatusActive, models.ReferralStatusEligible}, to: models.ReferralStatusCancelled},
	models.ReferralActionFraud:     {from: []models.ReferralStatus{models.ReferralStatusActive, models.ReferralStatusEligible}, to: models.ReferralStatusFraud},
	models.ReferralActionReinstate: {from: []models.ReferralStatus{models.ReferralStatusCancelled, models.ReferralStatusFraud}, to: models.ReferralStatusActive},
}

// ReviewReferral выполняет ручное решение администратора по рефералу.
// Рефералы, включенные в выплату, не меняются: сначала нужно отменить выплату.
// Восстановление невозможно, если у email уже есть другой живой реферал.
func (s *Service) ReviewReferral(ctx context.Context, id string, action models.ReferralAction, reviewer, reason string) (*models.Referral, error) {
	tr, ok := referralTransitions[action]
	if !ok {
		return nil, models.ErrInvalidInput.WithMessage(fmt.Sprintf("неизвестное действие %q", action))
	}

	ref, err := s.store.Referral().Transition(ctx, id, tr.from, tr.to, reason, s.now())
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrDuplicateReferral) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка смены статуса реферала: %w", err)
	}

	s.logger.Info("реферал рассмотрен администратором",
		zap.String("referral_id", id),
		zap.String("action", string(action)),
		zap.String("status", string(ref.Status)),
		zap.String("reviewer", reviewer))

	s.recompute(ctx, ref.ReferrerID)
	return ref, nil
}

// ListReferrals возвращает рефералы по фильтру для выгрузки
func (s *Service) ListReferrals(ctx context.Context, filter models.ReferralFilter) ([]*models.Referral, error) {
	referrals, err := s.store.Referral().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", err)
	}
	return referrals, nil
}

// RecomputeStats пересчитывает агрегаты реферера из журнала
func (s *Service) RecomputeStats(ctx context.Context, referrerID string) (*models.ReferrerStats, error) {
	stats, err := s.store.Referrer().RecomputeStats(ctx, referrerID, s.now())
	if err != nil {
		return nil, fmt.Errorf("ошибка пересчета статистики: %w", err)
	}
	return stats, nil
}

// recompute пересчитывает статистику после перехода, который уже зафиксирован в журнале
func (s *Service) recompute(ctx context.Context, referrerID string) {
	if _, err := s.RecomputeStats(ctx, referrerID); err != nil {
		s.logger.Error("ошибка пересчета статистики реферера",
			zap.Error(err),
			zap.String("referrer_id", referrerID))
	}
}

func generateCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Address != strings.TrimSpace(raw) {
		return "", models.ErrInvalidInput.WithMessage("некорректный email")
	}
	return strings.ToLower(addr.Address), nil
}

func normalizeCountry(raw string, required bool) (string, error) {
	country := strings.ToUpper(strings.TrimSpace(raw))
	if country == "" && !required {
		return "", nil
	}
	if len(country) != 2 || country[0] < 'A' || country[0] > 'Z' || country[1] < 'A' || country[1] > 'Z' {
		return "", models.ErrInvalidInput.WithMessage("страна должна быть кодом ISO 3166-1 alpha-2")
	}
	return country, nil
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", models.ErrInvalidInput.WithMessage("ссылка должна быть абсолютным http(s) адресом")
	}
	return u.String(), nil
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
