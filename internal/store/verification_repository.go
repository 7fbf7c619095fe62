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

const verificationColumns = `id, referrer_id, platform, post_url, screenshot_url, status, reviewed_by, reviewed_at, review_note, created_at`

// PostgresVerificationRepository реализует VerificationRepository для PostgreSQL
type PostgresVerificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewVerificationRepository создает новый репозиторий публикаций
func NewVerificationRepository(db *pgxpool.Pool, logger *zap.Logger) VerificationRepository {
	return &PostgresVerificationRepository{
		db:     db,
		logger: logger,
	}
}

func scanVerification(row pgx.Row) (*models.SocialVerification, error) {
	v := &models.SocialVerification{}
	err := row.Scan(&v.ID, &v.ReferrerID, &v.Platform, &v.PostURL, &v.ScreenshotURL, &v.Status,
		&v.ReviewedBy, &v.ReviewedAt, &v.ReviewNote, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

// Create сохраняет заявку на проверку публикации
func (r *PostgresVerificationRepository) Create(ctx context.Context, v *models.SocialVerification) error {
	query := `
		INSERT INTO social_verifications (id, referrer_id, platform, post_url, screenshot_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query, v.ID, v.ReferrerID, v.Platform, v.PostURL, v.ScreenshotURL, v.Status, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки на проверку: %w", err)
	}

	r.logger.Info("заявка на проверку публикации создана",
		zap.String("verification_id", v.ID),
		zap.String("referrer_id", v.ReferrerID),
		zap.String("platform", v.Platform))

	return nil
}

// GetByID получает заявку по ID
func (r *PostgresVerificationRepository) GetByID(ctx context.Context, id string) (*models.SocialVerification, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	v, err := scanVerification(r.db.QueryRow(ctx, `SELECT `+verificationColumns+` FROM social_verifications WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявки на проверку: %w", err)
	}
	return v, nil
}

// ListByReferrer получает заявки реферера, новые первыми
func (r *PostgresVerificationRepository) ListByReferrer(ctx context.Context, referrerID string) ([]*models.SocialVerification, error) {
	if !validID(referrerID) {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+verificationColumns+`
		FROM social_verifications
		WHERE referrer_id = $1
		ORDER BY created_at DESC`, referrerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявок на проверку: %w", err)
	}
	defer rows.Close()

	var list []*models.SocialVerification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		list = append(list, v)
	}

	return list, rows.Err()
}

// Review фиксирует решение администратора по заявке в статусе pending
func (r *PostgresVerificationRepository) Review(ctx context.Context, id string, status models.VerificationStatus, reviewer, note string, at time.Time) (*models.SocialVerification, error) {
	if !validID(id) {
		return nil, models.ErrNotFound
	}

	query := `
		UPDATE social_verifications
		SET status = $2, reviewed_by = $3, review_note = $4, reviewed_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + verificationColumns

	v, err := scanVerification(r.db.QueryRow(ctx, query, id, status, reviewer, note, at))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, models.ErrInvalidTransition
		}
		return nil, fmt.Errorf("ошибка проверки публикации: %w", err)
	}

	r.logger.Info("заявка на проверку рассмотрена",
		zap.String("verification_id", id),
		zap.String("status", string(status)),
		zap.String("reviewer", reviewer))

	return v, nil
}

// LatestApproved возвращает последнюю одобренную публикацию реферера
func (r *PostgresVerificationRepository) LatestApproved(ctx context.Context, referrerID string) (*models.SocialVerification, error) {
	if !validID(referrerID) {
		return nil, models.ErrNotFound
	}

	query := `
		SELECT ` + verificationColumns + `
		FROM social_verifications
		WHERE referrer_id = $1 AND status = 'approved'
		ORDER BY reviewed_at DESC NULLS LAST
		LIMIT 1`

	v, err := scanVerification(r.db.QueryRow(ctx, query, referrerID))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения одобренной публикации: %w", err)
	}
	return v, nil
}
