package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commission-engine/internal/config"
	"commission-engine/pkg/models"
	"commission-engine/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store представляет интерфейс журнала рефералов
type Store interface {
	Referrer() ReferrerRepository
	Referral() ReferralRepository
	Verification() VerificationRepository
	Payout() PayoutRepository
	Settings() SettingsRepository
	Close() error
}

// store реализует интерфейс Store поверх PostgreSQL
type store struct {
	db           *pgxpool.Pool
	logger       *zap.Logger
	referrer     ReferrerRepository
	referral     ReferralRepository
	verification VerificationRepository
	payout       PayoutRepository
	settings     SettingsRepository
}

// ReferrerRepository интерфейс для работы с реферерами
type ReferrerRepository interface {
	Create(ctx context.Context, referrer *models.Referrer) error
	GetByID(ctx context.Context, id string) (*models.Referrer, error)
	GetByEmail(ctx context.Context, email string) (*models.Referrer, error)
	GetByCode(ctx context.Context, code string) (*models.Referrer, error)
	UpdatePayoutAccount(ctx context.Context, id string, method models.PayoutMethod, accountID string, at time.Time) error
	MarkSocialVerified(ctx context.Context, id string, at time.Time) error
	RecomputeStats(ctx context.Context, id string, at time.Time) (*models.ReferrerStats, error)
}

// ReferralRepository интерфейс для работы с рефералами
type ReferralRepository interface {
	Create(ctx context.Context, referral *models.Referral) error
	GetByID(ctx context.Context, id string) (*models.Referral, error)
	FindLiveByEmail(ctx context.Context, email string) (*models.Referral, error)
	ListByReferrer(ctx context.Context, referrerID string) ([]*models.Referral, error)
	ListDueForVerification(ctx context.Context, now time.Time, limit int) ([]*models.Referral, error)
	MarkEligible(ctx context.Context, id string, commission money.Cents, at time.Time) error
	MarkCancelled(ctx context.Context, id string, note string, at time.Time) error
	ListClaimable(ctx context.Context, referrerID string) ([]*models.Referral, error)
	Transition(ctx context.Context, id string, from []models.ReferralStatus, to models.ReferralStatus, note string, at time.Time) (*models.Referral, error)
	List(ctx context.Context, filter models.ReferralFilter) ([]*models.Referral, error)
}

// VerificationRepository интерфейс для работы с публикациями в соцсетях
type VerificationRepository interface {
	Create(ctx context.Context, v *models.SocialVerification) error
	GetByID(ctx context.Context, id string) (*models.SocialVerification, error)
	ListByReferrer(ctx context.Context, referrerID string) ([]*models.SocialVerification, error)
	Review(ctx context.Context, id string, status models.VerificationStatus, reviewer, note string, at time.Time) (*models.SocialVerification, error)
	LatestApproved(ctx context.Context, referrerID string) (*models.SocialVerification, error)
}

// PayoutRepository интерфейс для работы с выплатами.
// Все переходы статусов условные: промах возвращает models.ErrInvalidTransition.
type PayoutRepository interface {
	CreateWithClaims(ctx context.Context, payout *models.Payout) error
	GetByID(ctx context.Context, id string) (*models.Payout, error)
	ListByReferrer(ctx context.Context, referrerID string) ([]*models.Payout, error)
	List(ctx context.Context, filter models.PayoutFilter) ([]*models.Payout, error)
	Approve(ctx context.Context, id, approver, note string, at time.Time) (*models.Payout, error)
	Release(ctx context.Context, id string, from models.PayoutStatus, reviewer, note string, at time.Time) (*models.Payout, error)
	BeginExecution(ctx context.Context, id string, at time.Time) (*models.Payout, error)
	CompleteExecution(ctx context.Context, id, transferID string, at time.Time) (*models.Payout, error)
	FailExecution(ctx context.Context, id, code, reason string, at time.Time) (*models.Payout, error)
}

// SettingsRepository хранит глобальные настройки движка
type SettingsRepository interface {
	GetBool(ctx context.Context, key string) (value bool, found bool, err error)
	SetBool(ctx context.Context, key string, value bool) error
}

// ErrCodeTaken возвращается, когда сгенерированный реферальный код уже занят
var ErrCodeTaken = errors.New("реферальный код уже занят")

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	s := &store{
		db:     db,
		logger: logger,
	}

	// Инициализация репозиториев
	s.referrer = NewReferrerRepository(db, logger)
	s.referral = NewReferralRepository(db, logger)
	s.verification = NewVerificationRepository(db, logger)
	s.payout = NewPayoutRepository(db, logger)
	s.settings = NewSettingsRepository(db, logger)

	return s, nil
}

// Referrer возвращает репозиторий рефереров
func (s *store) Referrer() ReferrerRepository {
	return s.referrer
}

// Referral возвращает репозиторий рефералов
func (s *store) Referral() ReferralRepository {
	return s.referral
}

// Verification возвращает репозиторий публикаций
func (s *store) Verification() VerificationRepository {
	return s.verification
}

// Payout возвращает репозиторий выплат
func (s *store) Payout() PayoutRepository {
	return s.payout
}

// Settings возвращает репозиторий настроек
func (s *store) Settings() SettingsRepository {
	return s.settings
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}

const uniqueViolation = "23505"

// uniqueConstraint возвращает имя нарушенного уникального ограничения
func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// validID отсекает строки, которые PostgreSQL не примет как uuid
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func referralStatusStrings(statuses []models.ReferralStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
