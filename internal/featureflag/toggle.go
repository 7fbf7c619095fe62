// Package featureflag хранит глобальный переключатель реферальной программы
package featureflag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"commission-engine/internal/metrics"

	"go.uber.org/zap"
)

// ProgramEnabledKey ключ настройки в журнале
const ProgramEnabledKey = "referral_program_enabled"

// Settings хранилище логических настроек
type Settings interface {
	GetBool(ctx context.Context, key string) (value bool, found bool, err error)
	SetBool(ctx context.Context, key string, value bool) error
}

// Toggle читает переключатель из журнала с коротким кешем.
// Переключение не затрагивает рефералы и выплаты.
type Toggle struct {
	settings Settings
	fallback bool
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	cached   bool
	cachedAt time.Time
	loaded   bool
}

// NewToggle создает переключатель. fallback используется, пока значение не сохранено в журнале.
func NewToggle(settings Settings, fallback bool, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *Toggle {
	return &Toggle{
		settings: settings,
		fallback: fallback,
		ttl:      ttl,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled сообщает, включена ли программа
func (t *Toggle) Enabled(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loaded && t.now().Sub(t.cachedAt) < t.ttl {
		return t.cached, nil
	}

	value, found, err := t.settings.GetBool(ctx, ProgramEnabledKey)
	if err != nil {
		if t.loaded {
			// Журнал недоступен, отдаем последнее известное значение
			t.logger.Warn("не удалось обновить переключатель программы", zap.Error(err))
			return t.cached, nil
		}
		return false, fmt.Errorf("ошибка чтения переключателя программы: %w", err)
	}
	if !found {
		value = t.fallback
	}

	t.cached = value
	t.cachedAt = t.now()
	t.loaded = true
	t.metrics.SetProgramEnabled(value)

	return value, nil
}

// Set сохраняет значение переключателя
func (t *Toggle) Set(ctx context.Context, enabled bool) error {
	if err := t.settings.SetBool(ctx, ProgramEnabledKey, enabled); err != nil {
		return fmt.Errorf("ошибка сохранения переключателя программы: %w", err)
	}

	t.mu.Lock()
	t.cached = enabled
	t.cachedAt = t.now()
	t.loaded = true
	t.mu.Unlock()

	t.metrics.SetProgramEnabled(enabled)
	t.logger.Info("реферальная программа переключена", zap.Bool("enabled", enabled))
	return nil
}
