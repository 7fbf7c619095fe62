package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commission-engine/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const payoutColumns = `id, referrer_id, requested_amount, currency, platform_fee, processing_fee, net_amount, method,
		transfer_id, status, social_proof_url, social_verification_id, approved_by, approved_at, reviewed_by, review_note,
		failure_code, failure_reason, retry_count, processing_at, completed_at, failed_at, cancelled_at, created_at, updated_at`

// PostgresPayoutRepository реализует PayoutRepository для PostgreSQL
type PostgresPayoutRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPayoutRepository создает новый репозиторий выплат
func NewPayoutRepository(db *pgxpool.Pool, logger *zap.Logger) PayoutRepository {
	return &PostgresPayoutRepository{
		db:     db,
		logger: logger,
	}
}

func scanPayout(row pgx.Row) (*models.Payout, error) {
	p := &models.Payout{}
	err := row.Scan(
		&p.ID, &p.ReferrerID, &p.RequestedAmount, &p.Currency, &p.PlatformFee, &p.ProcessingFee, &p.NetAmount, &p.Method,
		&p.TransferID, &p.Status, &p.SocialProofURL, &p.SocialVerificationID, &p.ApprovedBy, &p.ApprovedAt, &p.ReviewedBy, &p.ReviewNote,
		&p.FailureCode, &p.FailureReason, &p.RetryCount, &p.ProcessingAt, &p.CompletedAt, &p.FailedAt, &p.CancelledAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// querier общий интерфейс пула и транзакции
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadReferralIDs(ctx context.Context, q querier, payoutID string) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT referral_id FROM payout_referrals WHERE payout_id = $1 ORDER BY referral_id`, payoutID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения состава выплаты: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PostgresPayoutRepository) withReferrals(ctx context.Context, q querier, p *models.Payout) (*models.Payout, error) {
	ids, err := loadReferralIDs(ctx, q, p.ID)
	if err != nil {
		return nil, err
	}
	p.ReferralIDs = ids
	return p, nil
}

// CreateWithClaims создает выплату и атомарно закрепляет за ней рефералы из payout.ReferralIDs.
// Если хотя бы один реферал уже закреплен или не eligible, транзакция откатывается с models.ErrReferralClaimed.
func (r *PostgresPayoutRepository) CreateWithClaims(ctx context.Context, p *models.Payout) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO payouts (id, referrer_id, requested_amount, currency, platform_fee, processing_fee, net_amount, method,
		                     status, social_proof_url, social_verification_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.Exec(ctx, insert,
		p.ID, p.ReferrerID, p.RequestedAmount, p.Currency, p.PlatformFee, p.ProcessingFee, p.NetAmount, p.Method,
		p.Status, p.SocialProofURL, p.SocialVerificationID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания выплаты: %w", err)
	}

	claim := `
		UPDATE referrals
		SET payout_id = $1, updated_at = $4
		WHERE id = $2 AND referrer_id = $3 AND status = 'eligible' AND payout_id IS NULL`

	for _, referralID := range p.ReferralIDs {
		result, err := tx.Exec(ctx, claim, p.ID, referralID, p.ReferrerID, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("ошибка закрепления реферала %s: %w", referralID, err)
		}
		if result.RowsAffected() == 0 {
			r.logger.Warn("реферал уже закреплен за другой выплатой",
				zap.String("payout_id", p.ID),
				zap.String("referral_id", referralID))
			return models.ErrReferralClaimed
		}

		if _, err := tx.Exec(ctx, `INSERT INTO payout_referrals (payout_id, referral_id) VALUES ($1, $2)`, p.ID, referralID); err != nil {
			return fmt.Errorf("ошибка сохранения состава выплаты: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("выплата создана в БД",
		zap.String("payout_id", p.ID),
		zap.String("referrer_id", p.ReferrerID),
		zap.Int("referrals", len(p.ReferralIDs)))

	return nil
}

// GetByID получает выплату по ID вместе с составом
func (r *PostgresPayoutRepository) GetByID(ctx context.Context, id string) (*models.Payout, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	p, err := scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения выплаты: %w", err)
	}
	return r.withReferrals(ctx, r.db, p)
}

// ListByReferrer получает выплаты реферера, новые первыми
func (r *PostgresPayoutRepository) ListByReferrer(ctx context.Context, referrerID string) ([]*models.Payout, error) {
	return r.List(ctx, models.PayoutFilter{ReferrerID: referrerID})
}

// List возвращает выплаты по фильтру
func (r *PostgresPayoutRepository) List(ctx context.Context, filter models.PayoutFilter) ([]*models.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE 1 = 1`
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
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки выплат: %w", err)
	}

	var payouts []*models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("ошибка сканирования выплаты: %w", err)
		}
		payouts = append(payouts, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range payouts {
		if _, err := r.withReferrals(ctx, r.db, p); err != nil {
			return nil, err
		}
	}

	return payouts, nil
}

// transition выполняет условный UPDATE и различает отсутствие выплаты и неподходящий статус
func (r *PostgresPayoutRepository) transition(ctx context.Context, q pgx.Tx, id, query string, args ...any) (*models.Payout, error) {
	var row pgx.Row
	if q != nil {
		row = q.QueryRow(ctx, query, args...)
	} else {
		row = r.db.QueryRow(ctx, query, args...)
	}

	p, err := scanPayout(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("ошибка смены статуса выплаты: %w", err)
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, models.ErrInvalidTransition
}

// Approve переводит выплату pending -> approved
func (r *PostgresPayoutRepository) Approve(ctx context.Context, id, approver, note string, at time.Time) (*models.Payout, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	query := `
		UPDATE payouts
		SET status = 'approved', approved_by = $2, approved_at = $4, reviewed_by = $2, review_note = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + payoutColumns

	p, err := r.transition(ctx, nil, id, query, id, approver, note, at)
	if err != nil {
		return nil, err
	}

	r.logger.Info("выплата одобрена", zap.String("payout_id", id), zap.String("approved_by", approver))
	return r.withReferrals(ctx, r.db, p)
}

// Release отменяет выплату из статуса from и освобождает ее рефералы
func (r *PostgresPayoutRepository) Release(ctx context.Context, id string, from models.PayoutStatus, reviewer, note string, at time.Time) (*models.Payout, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE payouts
		SET status = 'cancelled', reviewed_by = $3, review_note = $4, cancelled_at = $5, updated_at = $5
		WHERE id = $1 AND status = $2 AND transfer_id IS NULL
		RETURNING ` + payoutColumns

	p, err := r.transition(ctx, tx, id, query, id, from, reviewer, note, at)
	if err != nil {
		return nil, err
	}

	result, err := tx.Exec(ctx, `
		UPDATE referrals SET payout_id = NULL, updated_at = $2
		WHERE payout_id = $1 AND status = 'eligible'`, id, at)
	if err != nil {
		return nil, fmt.Errorf("ошибка освобождения рефералов: %w", err)
	}

	if _, err := r.withReferrals(ctx, tx, p); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("выплата отменена, рефералы освобождены",
		zap.String("payout_id", id),
		zap.String("from_status", string(from)),
		zap.Int64("released", result.RowsAffected()))

	return p, nil
}

// BeginExecution переводит одобренную выплату без перевода в processing.
// Это единственная точка входа в исполнение: повторный вызов получает models.ErrInvalidTransition.
func (r *PostgresPayoutRepository) BeginExecution(ctx context.Context, id string, at time.Time) (*models.Payout, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	query := `
		UPDATE payouts
		SET status = 'processing', processing_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'approved' AND transfer_id IS NULL
		RETURNING ` + payoutColumns

	p, err := r.transition(ctx, nil, id, query, id, at)
	if err != nil {
		return nil, err
	}
	return r.withReferrals(ctx, r.db, p)
}

// CompleteExecution сохраняет идентификатор перевода и отмечает рефералы выплаченными
func (r *PostgresPayoutRepository) CompleteExecution(ctx context.Context, id, transferID string, at time.Time) (*models.Payout, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE payouts
		SET status = 'completed', transfer_id = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing' AND transfer_id IS NULL
		RETURNING ` + payoutColumns

	p, err := r.transition(ctx, tx, id, query, id, transferID, at)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE referrals SET status = 'paid', paid_at = $2, updated_at = $2
		WHERE payout_id = $1 AND status = 'eligible'`, id, at); err != nil {
		return nil, fmt.Errorf("ошибка отметки рефералов выплаченными: %w", err)
	}

	if _, err := r.withReferrals(ctx, tx, p); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	r.logger.Info("выплата завершена",
		zap.String("payout_id", id),
		zap.String("transfer_id", transferID))

	return p, nil
}

// FailExecution фиксирует неуспешную попытку перевода. Рефералы остаются закрепленными за выплатой.
func (r *PostgresPayoutRepository) FailExecution(ctx context.Context, id, code, reason string, at time.Time) (*models.Payout, error) {
	query := `
		UPDATE payouts
		SET status = 'failed', failure_code = $2, failure_reason = $3, retry_count = retry_count + 1, failed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + payoutColumns

	p, err := r.transition(ctx, nil, id, query, id, code, reason, at)
	if err != nil {
		return nil, err
	}

	r.logger.Warn("выплата завершилась ошибкой",
		zap.String("payout_id", id),
		zap.String("failure_code", code),
		zap.String("failure_reason", reason))

	return r.withReferrals(ctx, r.db, p)
}
