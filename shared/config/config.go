package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the settings shared by every service
type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Database DatabaseConfig

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	KafkaBroker        string `env:"KAFKA_BROKER"`
	SessionEventsTopic string `env:"SESSION_EVENTS_TOPIC" envDefault:"session-events"`

	JWTSecret   string `env:"JWT_SECRET"`
	JWTSecretID string `env:"JWT_SECRET_ID"`
	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	JWTIssuer   string `env:"JWT_ISSUER" envDefault:"cafe-pos"`

	TokenTTLShared   time.Duration `env:"TOKEN_TTL_SHARED" envDefault:"12h"`
	TokenTTLPersonal time.Duration `env:"TOKEN_TTL_PERSONAL" envDefault:"168h"`
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"10"`
	RestrictedRoles  []string      `env:"RESTRICTED_ROLES" envSeparator:"," envDefault:"kasir"`
	RequireVerified  bool          `env:"REQUIRE_EMAIL_VERIFICATION" envDefault:"true"`

	TrialPeriod          time.Duration `env:"TRIAL_PERIOD" envDefault:"336h"` // 14 days
	TenantCacheTTL       time.Duration `env:"TENANT_CACHE_TTL" envDefault:"5m"`
	TenantResolveTimeout time.Duration `env:"TENANT_RESOLVE_TIMEOUT" envDefault:"3s"`
	PoolAcquireTimeout   time.Duration `env:"POOL_ACQUIRE_TIMEOUT" envDefault:"5s"`

	PlatformAdminKey string  `env:"PLATFORM_ADMIN_KEY"`
	LoginRateLimit   float64 `env:"LOGIN_RATE_LIMIT" envDefault:"5"`
	LoginRateBurst   int     `env:"LOGIN_RATE_BURST" envDefault:"10"`

	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL"`

	AuthServiceURL     string `env:"AUTH_SERVICE_URL" envDefault:"http://localhost:8001"`
	TenantServiceURL   string `env:"TENANT_SERVICE_URL" envDefault:"http://localhost:8002"`
	ShiftServiceURL    string `env:"SHIFT_SERVICE_URL" envDefault:"http://localhost:8003"`
	NotifierServiceURL string `env:"NOTIFIER_SERVICE_URL" envDefault:"http://localhost:8004"`
}

// Load reads configuration from the environment, after a best-effort .env load
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", cfg.BcryptCost)
	}
	return cfg, nil
}

// IsDevelopment reports whether the process runs outside production
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "test"
}

// ConfigureLogging applies LOG_LEVEL and LOG_FORMAT to the standard logrus logger
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// ServicePort returns the port for a service from <NAME>_SERVICE_PORT
func ServicePort(name, fallback string) string {
	return getEnv(name+"_SERVICE_PORT", fallback)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
