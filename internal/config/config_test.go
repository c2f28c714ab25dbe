package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const fullConfig = `
http:
  port: 9090
  cors_origins: ["https://app.example.com"]
log:
  level: debug
database:
  url: postgres://u:p@localhost/escrow
redis:
  url: localhost:6379
auth:
  jwt_secret: s3cret
payment:
  secret_key: sk_test_123
  webhook_secret: whsec_123
  currency: USD
  platform_fee_rate: 0.15
  prices:
    monthly: price_m
    quarterly: price_q
    yearly: price_y
platform:
  base_url: https://app.example.com/
scheduler:
  stale_after: 1h
`

func TestLoad(t *testing.T) {
	t.Run("parses file and applies defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, fullConfig), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.HTTP.Port != 9090 {
			t.Errorf("port = %d, want 9090", cfg.HTTP.Port)
		}
		if cfg.Payment.Currency != "usd" {
			t.Errorf("currency = %q, want lower-cased usd", cfg.Payment.Currency)
		}
		if cfg.Payment.PlatformFeeRate.String() != "0.15" {
			t.Errorf("fee rate = %s, want 0.15", cfg.Payment.PlatformFeeRate)
		}
		if cfg.Platform.BaseURL != "https://app.example.com" {
			t.Errorf("base url = %q, trailing slash should be trimmed", cfg.Platform.BaseURL)
		}
		if cfg.Scheduler.StaleAfter != time.Hour {
			t.Errorf("stale_after = %v, want 1h", cfg.Scheduler.StaleAfter)
		}
		if cfg.Scheduler.Workers != 4 {
			t.Errorf("workers default = %d, want 4", cfg.Scheduler.Workers)
		}
		if cfg.Payment.Prices.Quarterly != "price_q" {
			t.Errorf("quarterly price = %q", cfg.Payment.Prices.Quarterly)
		}
	})

	t.Run("environment overrides secrets", func(t *testing.T) {
		t.Setenv("STRIPE_SECRET_KEY", "sk_env")
		t.Setenv("PLATFORM_FEE_RATE", "0.05")
		cfg, err := Load(writeConfig(t, fullConfig), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Payment.SecretKey != "sk_env" {
			t.Errorf("secret key = %q, want env value", cfg.Payment.SecretKey)
		}
		if cfg.Payment.PlatformFeeRate.String() != "0.05" {
			t.Errorf("fee rate = %s, want 0.05", cfg.Payment.PlatformFeeRate)
		}
	})

	t.Run("rejects fee rate outside [0,1)", func(t *testing.T) {
		t.Setenv("PLATFORM_FEE_RATE", "1")
		if _, err := Load(writeConfig(t, fullConfig), false); err == nil {
			t.Fatal("expected error for fee rate 1")
		}
	})

	t.Run("requires secrets outside dev", func(t *testing.T) {
		if _, err := Load(writeConfig(t, "http:\n  port: 8000\n"), false); err == nil {
			t.Fatal("expected error for missing secret key")
		}
	})

	t.Run("dev mode tolerates missing file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.Runtime.Dev || cfg.Payment.Currency != "usd" || cfg.Payment.PlatformFeeRate.String() != "0.1" {
			t.Errorf("unexpected defaults: %+v", cfg.Payment)
		}
	})
}
