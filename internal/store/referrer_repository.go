package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commission-engine/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const referrerColumns = `id, email, name, country, currency, referral_code, status, commission_tier, commission_rate_bps,
		social_verified, social_verified_at, payout_method, payout_account_id,
		total_earned, total_paid, pending_balance, available_balance, reserved_balance,
		total_referrals, active_referrals, eligible_referrals, paid_referrals, cancelled_referrals, fraud_referrals,
		created_at, updated_at`

// PostgresReferrerRepository реализует ReferrerRepository для PostgreSQL
type PostgresReferrerRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewReferrerRepository создает новый репозиторий рефереров
func NewReferrerRepository(db *pgxpool.Pool, logger *zap.Logger) ReferrerRepository {
	return &PostgresReferrerRepository{
		db:     db,
		logger: logger,
	}
}

func scanReferrer(row pgx.Row) (*models.Referrer, error) {
	r := &models.Referrer{}
	err := row.Scan(
		&r.ID, &r.Email, &r.Name, &r.Country, &r.Currency, &r.ReferralCode, &r.Status, &r.CommissionTier, &r.CommissionRateBps,
		&r.SocialVerified, &r.SocialVerifiedAt, &r.PayoutMethod, &r.PayoutAccountID,
		&r.Stats.TotalEarned, &r.Stats.TotalPaid, &r.Stats.PendingBalance, &r.Stats.AvailableBalance, &r.Stats.ReservedBalance,
		&r.Stats.TotalReferrals, &r.Stats.ActiveReferrals, &r.Stats.EligibleReferrals, &r.Stats.PaidReferrals,
		&r.Stats.CancelledReferrals, &r.Stats.FraudReferrals,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// Create создает нового реферера
func (r *PostgresReferrerRepository) Create(ctx context.Context, referrer *models.Referrer) error {
	query := `
		INSERT INTO referrers (id, email, name, country, currency, referral_code, status, commission_tier, commission_rate_bps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		referrer.ID, referrer.Email, referrer.Name, referrer.Country, referrer.Currency, referrer.ReferralCode,
		referrer.Status, referrer.CommissionTier, referrer.CommissionRateBps, referrer.CreatedAt, referrer.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			if strings.Contains(constraint, "referral_code") {
				return ErrCodeTaken
			}
			return models.ErrEmailTaken
		}
		return fmt.Errorf("ошибка создания реферера: %w", err)
	}

	r.logger.Info("реферер создан",
		zap.String("referrer_id", referrer.ID),
		zap.String("referral_code", referrer.ReferralCode),
		zap.String("country", referrer.Country))

	return nil
}

// GetByID получает реферера по ID
func (r *PostgresReferrerRepository) GetByID(ctx context.Context, id string) (*models.Referrer, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	referrer, err := scanReferrer(r.db.QueryRow(ctx, `SELECT `+referrerColumns+` FROM referrers WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферера по ID: %w", err)
	}
	return referrer, nil
}

// GetByEmail получает реферера по email без учета регистра
func (r *PostgresReferrerRepository) GetByEmail(ctx context.Context, email string) (*models.Referrer, error) {
	referrer, err := scanReferrer(r.db.QueryRow(ctx,
		`SELECT `+referrerColumns+` FROM referrers WHERE email = LOWER($1)`, email))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферера по email: %w", err)
	}
	return referrer, nil
}

// GetByCode получает реферера по реферальному коду
func (r *PostgresReferrerRepository) GetByCode(ctx context.Context, code string) (*models.Referrer, error) {
	referrer, err := scanReferrer(r.db.QueryRow(ctx,
		`SELECT `+referrerColumns+` FROM referrers WHERE referral_code = UPPER($1)`, code))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферера по коду: %w", err)
	}
	return referrer, nil
}

// UpdatePayoutAccount сохраняет способ выплаты и счет во внешней платежной системе
func (r *PostgresReferrerRepository) UpdatePayoutAccount(ctx context.Context, id string, method models.PayoutMethod, accountID string, at time.Time) error {
	if !validID(id) {
		return models.ErrNotFound
	}

	query := `UPDATE referrers SET payout_method = $2, payout_account_id = $3, updated_at = $4 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, method, accountID, at)
	if err != nil {
		return fmt.Errorf("ошибка обновления счета для выплат: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	r.logger.Info("счет для выплат обновлен",
		zap.String("referrer_id", id),
		zap.String("method", string(method)))
	return nil
}

// MarkSocialVerified отмечает реферера как подтвердившего публикацию.
// Время первой проверки не перезаписывается.
func (r *PostgresReferrerRepository) MarkSocialVerified(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return models.ErrNotFound
	}

	query := `
		UPDATE referrers
		SET social_verified = TRUE, social_verified_at = $2, updated_at = $2
		WHERE id = $1 AND social_verified = FALSE`

	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("ошибка отметки проверки публикации: %w", err)
	}

	if result.RowsAffected() > 0 {
		r.logger.Info("реферер прошел проверку публикации", zap.String("referrer_id", id))
	}
	return nil
}

// RecomputeStats пересчитывает агрегаты реферера из журнала рефералов и сохраняет их
func (r *PostgresReferrerRepository) RecomputeStats(ctx context.Context, id string, at time.Time) (*models.ReferrerStats, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	query := `
		WITH s AS (
			SELECT
				COALESCE(SUM(commission_amount) FILTER (WHERE status IN ('eligible', 'paid')), 0)::BIGINT AS earned,
				COALESCE(SUM(commission_amount) FILTER (WHERE status = 'paid'), 0)::BIGINT AS paid,
				COALESCE(SUM(commission_amount) FILTER (WHERE status = 'active'), 0)::BIGINT AS pending,
				COALESCE(SUM(commission_amount) FILTER (WHERE status = 'eligible' AND payout_id IS NOT NULL), 0)::BIGINT AS reserved,
				COUNT(*)::INT AS total,
				(COUNT(*) FILTER (WHERE status = 'active'))::INT AS active,
				(COUNT(*) FILTER (WHERE status = 'eligible'))::INT AS eligible,
				(COUNT(*) FILTER (WHERE status = 'paid'))::INT AS paid_count,
				(COUNT(*) FILTER (WHERE status = 'cancelled'))::INT AS cancelled,
				(COUNT(*) FILTER (WHERE status = 'fraud'))::INT AS fraud
			FROM referrals
			WHERE referrer_id = $1
		)
		UPDATE referrers AS r
		SET total_earned = s.earned,
		    total_paid = s.paid,
		    pending_balance = s.pending,
		    available_balance = s.earned - s.paid,
		    reserved_balance = s.reserved,
		    total_referrals = s.total,
		    active_referrals = s.active,
		    eligible_referrals = s.eligible,
		    paid_referrals = s.paid_count,
		    cancelled_referrals = s.cancelled,
		    fraud_referrals = s.fraud,
		    updated_at = $2
		FROM s
		WHERE r.id = $1
		RETURNING r.total_earned, r.total_paid, r.pending_balance, r.available_balance, r.reserved_balance,
		          r.total_referrals, r.active_referrals, r.eligible_referrals, r.paid_referrals,
		          r.cancelled_referrals, r.fraud_referrals`

	stats := &models.ReferrerStats{}
	err := r.db.QueryRow(ctx, query, id, at).Scan(
		&stats.TotalEarned, &stats.TotalPaid, &stats.PendingBalance, &stats.AvailableBalance, &stats.ReservedBalance,
		&stats.TotalReferrals, &stats.ActiveReferrals, &stats.EligibleReferrals, &stats.PaidReferrals,
		&stats.CancelledReferrals, &stats.FraudReferrals,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка пересчета статистики реферера: %w", err)
	}

	r.logger.Debug("статистика реферера пересчитана",
		zap.String("referrer_id", id),
		zap.String("available_balance", stats.AvailableBalance.String()),
		zap.String("reserved_balance", stats.ReservedBalance.String()))

	return stats, nil
}
