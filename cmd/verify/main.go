package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"commission-engine/internal/config"
	"commission-engine/internal/featureflag"
	"commission-engine/internal/metrics"
	"commission-engine/internal/migrations"
	"commission-engine/internal/scheduler"
	"commission-engine/internal/store"
	"commission-engine/internal/subscription"

	"go.uber.org/zap"
)

func main() {
	var (
		status = flag.Bool("status", false, "Показать статус миграций и выйти")
		dryRun = flag.Bool("dry-run", false, "Показать рефералы к проверке без изменения статусов")
		limit  = flag.Int("limit", 0, "Максимум рефералов за прогон (0 = из конфигурации)")
	)
	flag.Parse()

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	if *status {
		if err := migrations.GetMigrationStatus(cfg, logger); err != nil {
			logger.Fatal("Ошибка получения статуса миграций", zap.Error(err))
		}
		return
	}

	// Подключение к базе данных
	st, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к базе данных", zap.Error(err))
	}
	defer st.Close()

	batch := cfg.Program.VerificationBatch
	if *limit > 0 {
		batch = *limit
	}

	ctx := context.Background()

	if *dryRun {
		err = listDue(ctx, st, batch, logger)
	} else {
		err = runVerification(ctx, cfg, st, batch, logger)
	}
	if err != nil {
		logger.Fatal("Ошибка проверки испытательного срока", zap.Error(err))
	}
}

func listDue(ctx context.Context, st store.Store, batch int, logger *zap.Logger) error {
	due, err := st.Referral().ListDueForVerification(ctx, time.Now().UTC(), batch)
	if err != nil {
		return fmt.Errorf("ошибка получения рефералов для проверки: %w", err)
	}

	for _, ref := range due {
		logger.Info("DRY RUN: Реферал будет проверен",
			zap.String("referral_id", ref.ID),
			zap.String("referrer_id", ref.ReferrerID),
			zap.String("professional_id", ref.ReferredProID),
			zap.String("commission_amount", ref.CommissionAmount.String()),
			zap.Time("eligible_date", ref.EligibleDate))
	}

	logger.Info("DRY RUN: Проверка не выполнялась", zap.Int("due", len(due)))
	return nil
}

func runVerification(ctx context.Context, cfg *config.Config, st store.Store, batch int, logger *zap.Logger) error {
	toggle := featureflag.NewToggle(st.Settings(), cfg.Program.Enabled, 0, nil, logger)
	subscriptions := subscription.NewClient(cfg.Subscription.APIURL, cfg.Subscription.APIKey, cfg.Program.LookupTimeout, logger)

	job := scheduler.NewVerificationJob(st, subscriptions, toggle, metrics.New(logger), batch, cfg.Program.LookupTimeout, logger)
	summary, err := job.RunOnce(ctx)
	if err != nil {
		return err
	}

	logger.Info("Проверка испытательного срока завершена",
		zap.Int("checked", summary.Checked),
		zap.Int("eligible", summary.Eligible),
		zap.Int("cancelled", summary.Cancelled),
		zap.Int("errored", summary.Errored))
	return nil
}
