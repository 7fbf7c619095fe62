package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commission-engine/pkg/models"
	"commission-engine/pkg/money"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const referralColumns = `id, referrer_id, referral_code, referred_pro_id, referred_pro_email, subscription_id,
		subscription_started_at, eligible_date, probation_complete, commission_rate_bps, base_amount, commission_amount,
		currency, country, status, payout_id, social_verification_id, eligible_at, paid_at, cancelled_at, review_note,
		created_at, updated_at`

// PostgresReferralRepository реализует ReferralRepository для PostgreSQL
type PostgresReferralRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewReferralRepository создает новый репозиторий рефералов
func NewReferralRepository(db *pgxpool.Pool, logger *zap.Logger) ReferralRepository {
	return &PostgresReferralRepository{
		db:     db,
		logger: logger,
	}
}

func scanReferral(row pgx.Row) (*models.Referral, error) {
	ref := &models.Referral{}
	err := row.Scan(
		&ref.ID, &ref.ReferrerID, &ref.ReferralCode, &ref.ReferredProID, &ref.ReferredProEmail, &ref.SubscriptionID,
		&ref.SubscriptionStartedAt, &ref.EligibleDate, &ref.ProbationComplete, &ref.CommissionRateBps, &ref.BaseAmount, &ref.CommissionAmount,
		&ref.Currency, &ref.Country, &ref.Status, &ref.PayoutID, &ref.SocialVerificationID, &ref.EligibleAt, &ref.PaidAt, &ref.CancelledAt, &ref.ReviewNote,
		&ref.CreatedAt, &ref.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return ref, nil
}

func collectReferrals(rows pgx.Rows) ([]*models.Referral, error) {
	defer rows.Close()

	var referrals []*models.Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования реферала: %w", err)
		}
		referrals = append(referrals, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return referrals, nil
}

// Create создает новый реферал. Живой реферал с тем же email дает models.ErrDuplicateReferral.
func (r *PostgresReferralRepository) Create(ctx context.Context, ref *models.Referral) error {
	query := `
		INSERT INTO referrals (id, referrer_id, referral_code, referred_pro_id, referred_pro_email, subscription_id,
		                       subscription_started_at, eligible_date, probation_complete, commission_rate_bps,
		                       base_amount, commission_amount, currency, country, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, LOWER($5), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.db.Exec(ctx, query,
		ref.ID, ref.ReferrerID, ref.ReferralCode, ref.ReferredProID, ref.ReferredProEmail, ref.SubscriptionID,
		ref.SubscriptionStartedAt, ref.EligibleDate, ref.ProbationComplete, ref.CommissionRateBps,
		ref.BaseAmount, ref.CommissionAmount, ref.Currency, ref.Country, ref.Status, ref.CreatedAt, ref.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return models.ErrDuplicateReferral
		}
		return fmt.Errorf("ошибка создания реферала: %w", err)
	}

	return nil
}

// GetByID получает реферал по ID
func (r *PostgresReferralRepository) GetByID(ctx context.Context, id string) (*models.Referral, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	ref, err := scanReferral(r.db.QueryRow(ctx, `SELECT `+referralColumns+` FROM referrals WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реферала: %w", err)
	}
	return ref, nil
}

// FindLiveByEmail ищет не отмененный и не мошеннический реферал по email
func (r *PostgresReferralRepository) FindLiveByEmail(ctx context.Context, email string) (*models.Referral, error) {
	query := `
		SELECT ` + referralColumns + `
		FROM referrals
		WHERE LOWER(referred_pro_email) = LOWER($1) AND status NOT IN ('cancelled', 'fraud')
		LIMIT 1`

	ref, err := scanReferral(r.db.QueryRow(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска реферала по email: %w", err)
	}
	return ref, nil
}

// ListByReferrer получает все рефералы реферера, новые первыми
func (r *PostgresReferralRepository) ListByReferrer(ctx context.Context, referrerID string) ([]*models.Referral, error) {
	if !validID(referrerID) {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE referrer_id = $1
		ORDER BY created_at DESC`, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рефералов: %w", err)
	}

	return collectReferrals(rows)
}

// ListDueForVerification возвращает активные рефералы с истекшим испытательным сроком
func (r *PostgresReferralRepository) ListDueForVerification(ctx context.Context, now time.Time, limit int) ([]*models.Referral, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE status = 'active' AND probation_complete = FALSE AND eligible_date <= $1
		ORDER BY eligible_date ASC
		LIMIT $2`, now, limit)
	if err != nil {
		r.logger.Error("ошибка получения рефералов для проверки", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения рефералов для проверки: %w", err)
	}

	return collectReferrals(rows)
}

// MarkEligible переводит активный реферал в eligible. Промах дает models.ErrInvalidTransition.
func (r *PostgresReferralRepository) MarkEligible(ctx context.Context, id string, commission money.Cents, at time.Time) error {
	query := `
		UPDATE referrals
		SET status = 'eligible', probation_complete = TRUE, commission_amount = $2, eligible_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'active' AND probation_complete = FALSE`

	result, err := r.db.Exec(ctx, query, id, commission, at)
	if err != nil {
		return fmt.Errorf("ошибка перевода реферала в eligible: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	r.logger.Info("реферал стал доступен к выплате",
		zap.String("referral_id", id),
		zap.String("commission_amount", commission.String()))
	return nil
}

// MarkCancelled отменяет активный реферал по итогам проверки подписки
func (r *PostgresReferralRepository) MarkCancelled(ctx context.Context, id string, note string, at time.Time) error {
	query := `
		UPDATE referrals
		SET status = 'cancelled', cancelled_at = $3, review_note = $2, updated_at = $3
		WHERE id = $1 AND status = 'active' AND probation_complete = FALSE`

	result, err := r.db.Exec(ctx, query, id, note, at)
	if err != nil {
		return fmt.Errorf("ошибка отмены реферала: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}

	r.logger.Info("реферал отменен",
		zap.String("referral_id", id),
		zap.String("reason", note))
	return nil
}

// ListClaimable возвращает eligible рефералы без выплаты, раньше ставшие доступными первыми
func (r *PostgresReferralRepository) ListClaimable(ctx context.Context, referrerID string) ([]*models.Referral, error) {
	if !validID(referrerID) {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE referrer_id = $1 AND status = 'eligible' AND payout_id IS NULL
		ORDER BY eligible_at ASC NULLS LAST, created_at ASC, id ASC`, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения доступных рефералов: %w", err)
	}

	return collectReferrals(rows)
}

// Transition выполняет ручной перевод статуса администратором.
// Переход возможен только из статусов from и только для рефералов вне выплат.
func (r *PostgresReferralRepository) Transition(ctx context.Context, id string, from []models.ReferralStatus, to models.ReferralStatus, note string, at time.Time) (*models.Referral, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	set := `status = $2, review_note = $3, updated_at = $4`
	switch to {
	case models.ReferralStatusEligible:
		set += `, probation_complete = TRUE, eligible_at = $4`
	case models.ReferralStatusActive:
		set += `, probation_complete = FALSE, eligible_at = NULL, cancelled_at = NULL`
	case models.ReferralStatusCancelled, models.ReferralStatusFraud:
		set += `, probation_complete = FALSE, cancelled_at = $4`
	default:
		return nil, models.ErrInvalidTransition
	}

	query := `
		UPDATE referrals SET ` + set + `
		WHERE id = $1 AND status = ANY($5) AND payout_id IS NULL
		RETURNING ` + referralColumns

	ref, err := scanReferral(r.db.QueryRow(ctx, query, id, to, note, at, referralStatusStrings(from)))
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return nil, models.ErrDuplicateReferral
		}
		if errors.Is(err, models.ErrNotFound) {
			// Различаем отсутствие записи и неподходящий статус
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, models.ErrInvalidTransition
		}
		return nil, fmt.Errorf("ошибка смены статуса реферала: %w", err)
	}

	r.logger.Info("статус реферала изменен администратором",
		zap.String("referral_id", id),
		zap.String("status", string(to)),
		zap.String("note", note))

	return ref, nil
}

// List возвращает рефералы по фильтру для выгрузки
func (r *PostgresReferralRepository) List(ctx context.Context, filter models.ReferralFilter) ([]*models.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE 1 = 1`
	var args []any

	if filter.ReferrerID != "" {
		if !validID(filter.ReferrerID) {
			return nil, nil
		}
		args = append(args, filter.ReferrerID)
		query += fmt.Sprintf(" AND referrer_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки рефералов: %w", err)
	}

	return collectReferrals(rows)
}
