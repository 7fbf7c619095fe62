package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSettingsRepository реализует SettingsRepository для PostgreSQL
type PostgresSettingsRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSettingsRepository создает новый репозиторий настроек
func NewSettingsRepository(db *pgxpool.Pool, logger *zap.Logger) SettingsRepository {
	return &PostgresSettingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetBool читает логическую настройку. found = false, если настройка не задана.
func (r *PostgresSettingsRepository) GetBool(ctx context.Context, key string) (bool, bool, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT value FROM engine_settings WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("ошибка чтения настройки %s: %w", key, err)
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("некорректное значение настройки %s: %w", key, err)
	}
	return value, true, nil
}

// SetBool сохраняет логическую настройку
func (r *PostgresSettingsRepository) SetBool(ctx context.Context, key string, value bool) error {
	query := `
		INSERT INTO engine_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	if _, err := r.db.Exec(ctx, query, key, strconv.FormatBool(value), time.Now()); err != nil {
		return fmt.Errorf("ошибка сохранения настройки %s: %w", key, err)
	}

	r.logger.Info("настройка сохранена", zap.String("key", key), zap.Bool("value", value))
	return nil
}
