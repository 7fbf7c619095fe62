package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"commission-engine/pkg/money"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Program      ProgramConfig
	Subscription SubscriptionConfig
	Stripe       StripeConfig
	PayPal       PayPalConfig
	Rail         RailConfig
	Auth         AuthConfig
	Telegram     TelegramConfig
}

type AppConfig struct {
	Env           string
	LogLevel      string
	Port          int
	BaseURL       string
	StorageDriver string // postgres | memory
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// ProgramConfig содержит бизнес-параметры реферальной программы
type ProgramConfig struct {
	Enabled              bool
	ProbationDays        int
	VerificationInterval time.Duration
	VerificationBatch    int
	LookupTimeout        time.Duration
	MinPayout            money.Cents
	PlatformFeeBps       int64
	DomesticCountry      string
}

// SubscriptionConfig содержит настройки API подписок маркетплейса
type SubscriptionConfig struct {
	APIURL string
	APIKey string
}

// StripeConfig содержит настройки выплат через Stripe Connect
type StripeConfig struct {
	SecretKey  string
	BaseURL    string
	TestMode   bool
	RefreshURL string
	ReturnURL  string
}

// PayPalConfig содержит настройки выплат через PayPal Payouts
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TestMode     bool
}

type RailConfig struct {
	Timeout time.Duration
}

// AuthConfig содержит настройки токенов доступа
type AuthConfig struct {
	JWTSecret             string
	TokenTTL              time.Duration
	TrackingAPIKey        string
	TrackingSigningSecret string // HMAC подпись тела событий атрибуции, пусто = без подписи
}

// TelegramConfig содержит настройки уведомлений администраторов
type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)
	cfg.App.BaseURL = strings.TrimRight(getEnvDefault("APP_BASE_URL", "http://localhost:8080"), "/")
	cfg.App.StorageDriver = getEnvDefault("STORAGE_DRIVER", "postgres")

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = int32(getEnvIntDefault("DB_MAX_CONNS", 10))

	// Program
	cfg.Program.Enabled = getEnvBoolDefault("REFERRAL_PROGRAM_ENABLED", true)
	cfg.Program.ProbationDays = getEnvIntDefault("PROBATION_DAYS", 30)
	cfg.Program.VerificationInterval = getEnvDurationDefault("VERIFICATION_INTERVAL", 24*time.Hour)
	cfg.Program.VerificationBatch = getEnvIntDefault("VERIFICATION_BATCH_SIZE", 500)
	cfg.Program.LookupTimeout = getEnvDurationDefault("SUBSCRIPTION_LOOKUP_TIMEOUT", 10*time.Second)
	cfg.Program.PlatformFeeBps = int64(getEnvIntDefault("PLATFORM_FEE_BPS", 0))
	cfg.Program.DomesticCountry = strings.ToUpper(getEnvDefault("DOMESTIC_COUNTRY", "US"))

	minPayout, err := money.Parse(getEnvDefault("MIN_PAYOUT_AMOUNT", "10.00"))
	if err != nil {
		return nil, fmt.Errorf("некорректный MIN_PAYOUT_AMOUNT: %w", err)
	}
	cfg.Program.MinPayout = minPayout

	// Subscription API
	cfg.Subscription.APIURL = strings.TrimRight(os.Getenv("SUBSCRIPTION_API_URL"), "/")
	cfg.Subscription.APIKey = os.Getenv("SUBSCRIPTION_API_KEY")

	// Stripe
	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.BaseURL = getEnvDefault("STRIPE_BASE_URL", "https://api.stripe.com")
	cfg.Stripe.TestMode = getEnvBoolDefault("STRIPE_TEST_MODE", true)
	cfg.Stripe.RefreshURL = getEnvDefault("STRIPE_REFRESH_URL", cfg.App.BaseURL+"/payouts/onboarding/refresh")
	cfg.Stripe.ReturnURL = getEnvDefault("STRIPE_RETURN_URL", cfg.App.BaseURL+"/payouts/onboarding/complete")

	// PayPal
	cfg.PayPal.ClientID = os.Getenv("PAYPAL_CLIENT_ID")
	cfg.PayPal.ClientSecret = os.Getenv("PAYPAL_CLIENT_SECRET")
	cfg.PayPal.BaseURL = getEnvDefault("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com")
	cfg.PayPal.TestMode = getEnvBoolDefault("PAYPAL_TEST_MODE", true)

	cfg.Rail.Timeout = getEnvDurationDefault("RAIL_TIMEOUT", 30*time.Second)

	// Auth
	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.Auth.TokenTTL = getEnvDurationDefault("JWT_TTL", 30*24*time.Hour)
	cfg.Auth.TrackingAPIKey = os.Getenv("TRACKING_API_KEY")
	cfg.Auth.TrackingSigningSecret = os.Getenv("TRACKING_SIGNING_SECRET")

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.AdminChatID = int64(getEnvIntDefault("TELEGRAM_ADMIN_CHAT_ID", 0))

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.App.StorageDriver != "postgres" && config.App.StorageDriver != "memory" {
		return fmt.Errorf("поддерживаются только STORAGE_DRIVER: postgres, memory")
	}
	if config.App.StorageDriver == "postgres" {
		if config.Database.Host == "" {
			return fmt.Errorf("DB_HOST не установлен")
		}
		if config.Database.User == "" {
			return fmt.Errorf("DB_USER не установлен")
		}
		if config.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD не установлен")
		}
		if config.Database.Name == "" {
			return fmt.Errorf("DB_NAME не установлен")
		}
	}
	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET не установлен")
	}
	if config.Auth.TrackingAPIKey == "" {
		return fmt.Errorf("TRACKING_API_KEY не установлен")
	}
	if config.Subscription.APIURL == "" {
		return fmt.Errorf("SUBSCRIPTION_API_URL не установлен")
	}
	if !config.Stripe.TestMode && config.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY не установлен")
	}
	if !config.PayPal.TestMode && (config.PayPal.ClientID == "" || config.PayPal.ClientSecret == "") {
		return fmt.Errorf("PAYPAL_CLIENT_ID и PAYPAL_CLIENT_SECRET обязательны вне тестового режима")
	}
	if config.Program.ProbationDays <= 0 {
		return fmt.Errorf("PROBATION_DAYS должен быть больше нуля")
	}
	if config.Program.VerificationInterval <= 0 {
		return fmt.Errorf("VERIFICATION_INTERVAL должен быть больше нуля")
	}
	if config.Program.LookupTimeout <= 0 {
		return fmt.Errorf("SUBSCRIPTION_LOOKUP_TIMEOUT должен быть больше нуля")
	}
	if config.Rail.Timeout <= 0 {
		return fmt.Errorf("RAIL_TIMEOUT должен быть больше нуля")
	}
	if config.Program.MinPayout <= 0 {
		return fmt.Errorf("MIN_PAYOUT_AMOUNT должен быть больше нуля")
	}
	if config.Program.PlatformFeeBps < 0 || config.Program.PlatformFeeBps >= 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS должен быть в диапазоне [0, 10000)")
	}
	if config.Telegram.BotToken != "" && config.Telegram.AdminChatID == 0 {
		return fmt.Errorf("TELEGRAM_ADMIN_CHAT_ID обязателен вместе с TELEGRAM_BOT_TOKEN")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetURL возвращает строку подключения в формате URL для database/sql
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
