package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"referral-core/pkg/models"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Database DatabaseConfig
	App      AppConfig
	Referral ReferralConfig
	Payout   PayoutConfig
	Gateway  GatewayConfig
	Webhook  WebhookConfig
	Telegram TelegramConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
}

type AppConfig struct {
	Env              string
	LogLevel         string
	Port             int
	SchedulerMinutes int
}

// ReferralConfig содержит параметры атрибуции и начисления комиссий
type ReferralConfig struct {
	FlatCredit  float64 // фиксированный кредит за реферальный заказ
	DefaultRate float64 // ставка партнера по умолчанию (уровень starter)
	WindowDays  int     // окно атрибуции от момента ввода кода
	HoldDays    int     // период удержания до клиринга (совпадает с окном возвратов)
	Currency    string
}

// PayoutConfig содержит параметры выплат
type PayoutConfig struct {
	MinAmount    float64
	BatchEnabled bool
}

// GatewayConfig содержит настройки шлюза выплат
type GatewayConfig struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
	TestMode       bool
}

// WebhookConfig содержит настройки входящих webhook'ов магазина
type WebhookConfig struct {
	Secret string
}

// TelegramConfig содержит настройки канала оповещений операторов.
// Оповещения отключены, если токен не задан.
type TelegramConfig struct {
	BotToken  string
	OpsChatID int64
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Database
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = os.Getenv("DB_NAME")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")

	// Referral
	cfg.Referral.FlatCredit = getEnvFloatDefault("REFERRAL_FLAT_CREDIT", 5.0)
	cfg.Referral.DefaultRate = getEnvFloatDefault("AFFILIATE_DEFAULT_RATE", models.RateStarter)
	cfg.Referral.WindowDays = getEnvIntDefault("ATTRIBUTION_WINDOW_DAYS", 90)
	cfg.Referral.HoldDays = getEnvIntDefault("CLEARING_HOLD_DAYS", 30)
	cfg.Referral.Currency = getEnvDefault("SETTLEMENT_CURRENCY", "CAD")

	// Payout
	cfg.Payout.MinAmount = getEnvFloatDefault("PAYOUT_MIN_AMOUNT", 50.0)
	cfg.Payout.BatchEnabled = getEnvBoolDefault("PAYOUT_BATCH_ENABLED", true)

	// Gateway
	cfg.Gateway.BaseURL = getEnvDefault("GATEWAY_BASE_URL", "https://api.disbursement.example.com")
	cfg.Gateway.APIKey = os.Getenv("GATEWAY_API_KEY")
	cfg.Gateway.TimeoutSeconds = getEnvIntDefault("GATEWAY_TIMEOUT_SECONDS", 30)
	cfg.Gateway.TestMode = getEnvBoolDefault("GATEWAY_TEST_MODE", true)

	// Webhook
	cfg.Webhook.Secret = os.Getenv("WEBHOOK_SECRET")

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.OpsChatID = getEnvInt64Default("TELEGRAM_OPS_CHAT_ID", 0)

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8080)
	cfg.App.SchedulerMinutes = getEnvIntDefault("SCHEDULER_INTERVAL_MINUTES", 60)

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

func getEnvInt64Default(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getEnvFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
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

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
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
	if config.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET не установлен")
	}
	if config.Referral.DefaultRate <= 0 || config.Referral.DefaultRate > 1 {
		return fmt.Errorf("AFFILIATE_DEFAULT_RATE должен быть в диапазоне (0, 1]")
	}
	if config.Referral.FlatCredit < 0 {
		return fmt.Errorf("REFERRAL_FLAT_CREDIT не может быть отрицательным")
	}
	if config.Referral.WindowDays <= 0 {
		return fmt.Errorf("ATTRIBUTION_WINDOW_DAYS должен быть положительным")
	}
	if config.Referral.HoldDays <= 0 {
		return fmt.Errorf("CLEARING_HOLD_DAYS должен быть положительным")
	}
	if config.Payout.MinAmount <= 0 {
		return fmt.Errorf("PAYOUT_MIN_AMOUNT должен быть положительным")
	}
	if !config.Gateway.TestMode && config.Gateway.APIKey == "" {
		return fmt.Errorf("GATEWAY_API_KEY не установлен")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
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
