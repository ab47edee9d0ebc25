package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/farellandr/orderpay/internal/checkout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"PORT", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	"PAYMENT_PROVIDER", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "PROVIDER_TIMEOUT",
	"IDEMPOTENCY_TTL", "POINTS_PER_UNIT", "JWT_SECRET", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"LOG_LEVEL", "PUBLIC_BASE_URL",
}

// clearEnv unsets every setting for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ProviderMock, cfg.PaymentProvider)
	assert.Equal(t, defaultMockWebhookSecret, cfg.StripeWebhookSecret)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, int64(10), cfg.PointsPerUnit)
	assert.Equal(t, 20.0, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "disable", cfg.DBSSLMode)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	contents := "PAYMENT_PROVIDER=stripe\n" +
		"STRIPE_SECRET_KEY=sk_test_123\n" +
		"STRIPE_WEBHOOK_SECRET=whsec_123\n" +
		"PROVIDER_TIMEOUT=3s\n" +
		"POINTS_PER_UNIT=5\n" +
		"DB_HOST=db.internal\n"
	require.NoError(t, os.WriteFile(envFile, []byte(contents), 0o600))

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, ProviderStripe, cfg.PaymentProvider)
	assert.Equal(t, "sk_test_123", cfg.StripeSecretKey)
	assert.Equal(t, "whsec_123", cfg.StripeWebhookSecret)
	assert.Equal(t, 3*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, int64(5), cfg.PointsPerUnit)
	assert.Contains(t, cfg.DSN(), "host=db.internal")
}

func TestLoadConfig_EnvironmentWinsOverFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PORT=7070\n"), 0o600))

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			PaymentProvider:     ProviderStripe,
			StripeSecretKey:     "sk_test",
			StripeWebhookSecret: "whsec",
			ProviderTimeout:     time.Second,
			PointsPerUnit:       10,
			RateLimitRPS:        1,
			RateLimitBurst:      1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"stripe without secret key", func(c *Config) { c.StripeSecretKey = "" }},
		{"stripe without webhook secret", func(c *Config) { c.StripeWebhookSecret = "" }},
		{"unknown provider", func(c *Config) { c.PaymentProvider = "paypal" }},
		{"zero points per unit", func(c *Config) { c.PointsPerUnit = 0 }},
		{"zero provider timeout", func(c *Config) { c.ProviderTimeout = 0 }},
		{"negative idempotency ttl", func(c *Config) { c.IdempotencyTTL = -time.Second }},
		{"rate limit without burst", func(c *Config) { c.RateLimitBurst = 0 }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("verbose")
	assert.Error(t, err)
}

func TestInitPaymentProvider(t *testing.T) {
	provider, err := InitPaymentProvider(&Config{PaymentProvider: ProviderMock, PublicBaseURL: "http://localhost"})
	require.NoError(t, err)
	assert.IsType(t, &checkout.MockProvider{}, provider)

	provider, err = InitPaymentProvider(&Config{PaymentProvider: ProviderStripe, StripeSecretKey: "sk_test"})
	require.NoError(t, err)
	assert.IsType(t, &checkout.StripeProvider{}, provider)

	_, err = InitPaymentProvider(&Config{PaymentProvider: "paypal"})
	assert.Error(t, err)
}
