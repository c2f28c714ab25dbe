// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      int           `yaml:"rate_limit"` // requests per user per minute; 0 disables
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type PaymentConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	Currency      string `yaml:"currency"`
	// FeeRate is kept as text so "0.10" never passes through a float.
	FeeRate string `yaml:"platform_fee_rate"`
	Prices  struct {
		Monthly   string `yaml:"monthly"`
		Quarterly string `yaml:"quarterly"`
		Yearly    string `yaml:"yearly"`
	} `yaml:"prices"`

	PlatformFeeRate decimal.Decimal `yaml:"-"`
}

type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
}

type SchedulerConfig struct {
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	StaleAfter           time.Duration `yaml:"stale_after"`
	NotificationInterval time.Duration `yaml:"notification_interval"`
	Workers              int           `yaml:"workers"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Payment   PaymentConfig   `yaml:"payment"`
	Platform  PlatformConfig  `yaml:"platform"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses -config and -dev from the command line and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return Load(configPath, dev)
}

// Load reads the yaml file at path, applies environment overrides and
// defaults, and validates the result. A missing file is allowed in dev mode.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)

	// defaults
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "usd"
	}
	cfg.Payment.Currency = strings.ToLower(cfg.Payment.Currency)
	if cfg.Payment.FeeRate == "" {
		cfg.Payment.FeeRate = "0.10"
	}
	if cfg.Scheduler.SweepInterval <= 0 {
		cfg.Scheduler.SweepInterval = 5 * time.Minute
	}
	if cfg.Scheduler.StaleAfter <= 0 {
		cfg.Scheduler.StaleAfter = 30 * time.Minute
	}
	if cfg.Scheduler.NotificationInterval <= 0 {
		cfg.Scheduler.NotificationInterval = 15 * time.Second
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 4
	}
	cfg.Platform.BaseURL = strings.TrimRight(cfg.Platform.BaseURL, "/")

	rate, err := decimal.NewFromString(cfg.Payment.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("payment.platform_fee_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.New("payment.platform_fee_rate must be in [0,1)")
	}
	cfg.Payment.PlatformFeeRate = rate

	if !dev {
		if cfg.Payment.SecretKey == "" {
			return nil, errors.New("payment.secret_key is required")
		}
		if cfg.Payment.WebhookSecret == "" {
			return nil, errors.New("payment.webhook_secret is required")
		}
		if cfg.Database.URL == "" {
			return nil, errors.New("database.url is required")
		}
		if cfg.Platform.BaseURL == "" {
			return nil, errors.New("platform.base_url is required")
		}
		if cfg.Auth.JWTSecret == "" {
			return nil, errors.New("auth.jwt_secret is required")
		}
	}

	if dev && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "dev-only-jwt-secret"
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// applyEnv lets deployments inject secrets without writing them to the file.
func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Payment.SecretKey, "STRIPE_SECRET_KEY")
	set(&cfg.Payment.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	set(&cfg.Payment.Prices.Monthly, "STRIPE_PRICE_MONTHLY")
	set(&cfg.Payment.Prices.Quarterly, "STRIPE_PRICE_QUARTERLY")
	set(&cfg.Payment.Prices.Yearly, "STRIPE_PRICE_YEARLY")
	set(&cfg.Payment.FeeRate, "PLATFORM_FEE_RATE")
	set(&cfg.Payment.Currency, "PAYMENT_CURRENCY")
	set(&cfg.Platform.BaseURL, "PLATFORM_BASE_URL")
	set(&cfg.Database.URL, "DATABASE_URL")
	set(&cfg.Redis.URL, "REDIS_URL")
	set(&cfg.Auth.JWTSecret, "JWT_SECRET")
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
