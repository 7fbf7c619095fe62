package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commission-engine/internal/api"
	"commission-engine/internal/auth"
	"commission-engine/internal/commission"
	"commission-engine/internal/compliance"
	"commission-engine/internal/config"
	"commission-engine/internal/featureflag"
	"commission-engine/internal/metrics"
	"commission-engine/internal/migrations"
	"commission-engine/internal/notify"
	"commission-engine/internal/payout"
	"commission-engine/internal/rail"
	"commission-engine/internal/referral"
	"commission-engine/internal/scheduler"
	"commission-engine/internal/store"
	"commission-engine/internal/subscription"
	"commission-engine/internal/webhook"
	"commission-engine/pkg/models"

	"go.uber.org/zap"
)

func main() {
	// Инициализация логгера
	logger, err := initLogger()
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск движка реферальных комиссий")

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}
	logger = logger.WithOptions(zap.IncreaseLevel(cfg.App.GetLogLevel()))

	// Инициализация хранилища
	st, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации хранилища", zap.Error(err))
	}
	defer st.Close()

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, logger)

	toggle := featureflag.NewToggle(st.Settings(), cfg.Program.Enabled, 30*time.Second, metricsSystem, logger)
	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Уведомления администраторов в Telegram
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.BotToken != "" {
		telegram, err := notify.NewTelegramFromToken(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID, logger)
		if err != nil {
			logger.Fatal("ошибка инициализации Telegram бота", zap.Error(err))
		}
		notifier = telegram
	} else {
		logger.Info("уведомления в Telegram отключены")
	}

	// Платежные системы
	rails := rail.NewRegistry(metricsSystem)
	rails.Register(models.PayoutMethodStripe, rail.NewStripeClient(rail.StripeOptions{
		SecretKey:  cfg.Stripe.SecretKey,
		BaseURL:    cfg.Stripe.BaseURL,
		RefreshURL: cfg.Stripe.RefreshURL,
		ReturnURL:  cfg.Stripe.ReturnURL,
		TestMode:   cfg.Stripe.TestMode,
		Timeout:    cfg.Rail.Timeout,
	}, logger))
	rails.Register(models.PayoutMethodPayPal, rail.NewPayPalClient(rail.PayPalOptions{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		BaseURL:      cfg.PayPal.BaseURL,
		TestMode:     cfg.PayPal.TestMode,
		Timeout:      cfg.Rail.Timeout,
	}, logger))

	logger.Info("конфигурация платежных систем",
		zap.Bool("stripe_test_mode", cfg.Stripe.TestMode),
		zap.Bool("paypal_test_mode", cfg.PayPal.TestMode))

	// Инициализация сервисов
	referralService := referral.NewService(st, compliance.NewStaticTable(), issuer, notifier, metricsSystem,
		referral.Options{BaseURL: cfg.App.BaseURL, ProbationDays: cfg.Program.ProbationDays}, logger)
	payoutService := payout.NewService(st, rails,
		commission.DefaultFeeTable(cfg.Program.PlatformFeeBps, cfg.Program.DomesticCountry),
		notifier, metricsSystem,
		payout.Options{MinPayout: cfg.Program.MinPayout, RailTimeout: cfg.Rail.Timeout}, logger)

	subscriptions := subscription.NewClient(cfg.Subscription.APIURL, cfg.Subscription.APIKey, cfg.Program.LookupTimeout, logger)
	verificationJob := scheduler.NewVerificationJob(st, subscriptions, toggle, metricsSystem,
		cfg.Program.VerificationBatch, cfg.Program.LookupTimeout, logger)

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)
	taskScheduler.AddJob(verificationJob)

	tracking := webhook.NewTrackingHandler(referralService, cfg.Auth.TrackingAPIKey, cfg.Auth.TrackingSigningSecret, logger)
	server := api.NewServer(referralService, payoutService, issuer, toggle, verificationJob, tracking, metricsHandler, logger)

	// Создание канала для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP сервер запущен", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ошибка HTTP сервера", zap.Error(err))
			cancel()
		}
	}()

	// Запуск проверки испытательного срока по расписанию
	go taskScheduler.Start(ctx, cfg.Program.VerificationInterval)

	logger.Info("приложение запущено и готово к работе",
		zap.String("address", cfg.App.BaseURL),
		zap.String("storage", cfg.App.StorageDriver),
		zap.Duration("verification_interval", cfg.Program.VerificationInterval))

	// Ожидание сигнала завершения
	select {
	case <-sigChan:
		logger.Info("получен сигнал завершения, начинаем graceful shutdown")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("приложение завершено")
}

// initLogger инициализирует логгер. В продакшене пишем JSON, иначе консольный формат.
// Конфигурация еще не загружена, поэтому окружение читаем напрямую.
func initLogger() (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	if os.Getenv("APP_ENV") == "production" {
		config = zap.NewProductionConfig()
	}
	config.OutputPaths = []string{"stdout", "logs/app.log"}
	config.ErrorOutputPaths = []string{"stderr", "logs/error.log"}

	// Создаем директорию для логов если её нет
	if err := os.MkdirAll("logs", 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории логов: %w", err)
	}

	return config.Build()
}

// openStore открывает хранилище и применяет миграции
func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.App.StorageDriver == "memory" {
		logger.Warn("используется хранилище в памяти, данные не сохраняются между запусками")
		return store.NewMemoryStore(logger), nil
	}

	st, err := store.NewStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := migrations.RunMigrations(cfg, logger); err != nil {
		st.Close()
		return nil, fmt.Errorf("ошибка применения миграций: %w", err)
	}
	return st, nil
}
