package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultJWTSecret = "change-me-jwt-secret"

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"dev"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"coworking.db"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"change-me-jwt-secret"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	CouponsEnabled         bool     `env:"COUPONS_ENABLED" envDefault:"true"`
	DevCouponsInProduction bool     `env:"DEV_COUPONS_IN_PRODUCTION" envDefault:"false"`
	DevCouponAdminEmails   []string `env:"DEV_COUPON_ADMIN_EMAILS" envSeparator:","`
	OverrideAdminEmails    []string `env:"OVERRIDE_ADMIN_EMAILS" envSeparator:","`

	// bcrypt hash of the access token the gateway sends with each webhook.
	WebhookTokenHash string        `env:"WEBHOOK_TOKEN_HASH"`
	WebhookDedupTTL  time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"24h"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"billing-events"`

	UnpaidBookingTTL time.Duration `env:"UNPAID_BOOKING_TTL" envDefault:"30m"`
}

// CouponPolicy configures the coupon registry and the dev coupon gate.
type CouponPolicy struct {
	Enabled                bool
	Production             bool
	DevCouponsUnrestricted bool
	DevAdminEmails         []string
}

type OverridePolicy struct {
	AdminEmails []string
}

// Load reads the process environment. Callers load any .env file first.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if c.UnpaidBookingTTL <= 0 {
		return fmt.Errorf("UNPAID_BOOKING_TTL must be > 0")
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("KAFKA_TOPIC must be set when KAFKA_BROKERS is")
	}

	if c.IsProduction() {
		if isEmptyOrDefault(c.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if strings.TrimSpace(c.WebhookTokenHash) == "" {
			return fmt.Errorf("in prod/release WEBHOOK_TOKEN_HASH must be set")
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "prod" || env == "production" || env == "release"
}

func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "dev" || env == "development" || env == "local"
}

func (c *Config) Coupons() CouponPolicy {
	return CouponPolicy{
		Enabled:                c.CouponsEnabled,
		Production:             c.IsProduction(),
		DevCouponsUnrestricted: c.DevCouponsInProduction,
		DevAdminEmails:         c.DevCouponAdminEmails,
	}
}

func (c *Config) Overrides() OverridePolicy {
	return OverridePolicy{AdminEmails: c.OverrideAdminEmails}
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}
