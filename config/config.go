package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/farellandr/orderpay/internal/checkout"
	"github.com/farellandr/orderpay/internal/models"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ProviderStripe = "stripe"
	ProviderMock   = "mock"

	defaultMockWebhookSecret = "whsec_mock_local"
)

type Config struct {
	Port string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	PaymentProvider     string
	StripeSecretKey     string
	StripeWebhookSecret string
	ProviderTimeout     time.Duration
	IdempotencyTTL      time.Duration
	PointsPerUnit       int64

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	LogLevel       string
	PublicBaseURL  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "orderpay")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("payment_provider", ProviderMock)
	v.SetDefault("stripe_secret_key", "")
	v.SetDefault("stripe_webhook_secret", "")
	v.SetDefault("provider_timeout", "10s")
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("points_per_unit", 10)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("rate_limit_rps", 20)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("log_level", "info")
	v.SetDefault("public_base_url", "http://localhost:8080")
}

// LoadConfig reads envFile into the process environment when it exists and
// then resolves every setting from the environment, falling back to
// defaults.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:                v.GetString("port"),
		DBHost:              v.GetString("db_host"),
		DBPort:              v.GetString("db_port"),
		DBUser:              v.GetString("db_user"),
		DBPassword:          v.GetString("db_password"),
		DBName:              v.GetString("db_name"),
		DBSSLMode:           v.GetString("db_sslmode"),
		PaymentProvider:     strings.ToLower(strings.TrimSpace(v.GetString("payment_provider"))),
		StripeSecretKey:     v.GetString("stripe_secret_key"),
		StripeWebhookSecret: v.GetString("stripe_webhook_secret"),
		ProviderTimeout:     v.GetDuration("provider_timeout"),
		IdempotencyTTL:      v.GetDuration("idempotency_ttl"),
		PointsPerUnit:       v.GetInt64("points_per_unit"),
		JWTSecret:           v.GetString("jwt_secret"),
		RateLimitRPS:        v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:      v.GetInt("rate_limit_burst"),
		LogLevel:            v.GetString("log_level"),
		PublicBaseURL:       v.GetString("public_base_url"),
	}

	if cfg.PaymentProvider == ProviderMock && cfg.StripeWebhookSecret == "" {
		cfg.StripeWebhookSecret = defaultMockWebhookSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	switch cfg.PaymentProvider {
	case ProviderStripe:
		if cfg.StripeSecretKey == "" {
			return errors.New("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER is stripe")
		}
		if cfg.StripeWebhookSecret == "" {
			return errors.New("STRIPE_WEBHOOK_SECRET is required when PAYMENT_PROVIDER is stripe")
		}
	case ProviderMock:
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}

	if cfg.PointsPerUnit <= 0 {
		return errors.New("POINTS_PER_UNIT must be positive")
	}
	if cfg.ProviderTimeout <= 0 {
		return errors.New("PROVIDER_TIMEOUT must be positive")
	}
	if cfg.IdempotencyTTL < 0 {
		return errors.New("IDEMPOTENCY_TTL must not be negative")
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	return nil
}

func (cfg *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode,
	)
}

func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error
}

func InitDatabase(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := enableUUIDExtension(db); err != nil {
		return nil, err
	}

	if err := models.Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// NewLogger builds the JSON logger shared by every service.
func NewLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

func InitPaymentProvider(cfg *Config) (checkout.Provider, error) {
	switch cfg.PaymentProvider {
	case ProviderStripe:
		return checkout.NewStripeProvider(cfg.StripeSecretKey, nil), nil
	case ProviderMock:
		return checkout.NewMockProvider(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
	}
}
