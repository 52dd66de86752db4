package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	CatalogPath string `env:"CATALOG_PATH" default:"config/rules.yaml"`
	EnforcerURL string `env:"ENFORCER_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// SweepInterval trades lift latency against overhead; once per minute
	// keeps the worst-case lift delay acceptable for chat moderation.
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" default:"1m"`
	EnforcerTimeout time.Duration `env:"ENFORCER_TIMEOUT" default:"10s"`
	MaxLiftAttempts int           `env:"MAX_LIFT_ATTEMPTS" default:"20"`

	APIRatePerSecond float64 `env:"API_RATE_PER_SECOND" default:"20"`
	APIRateBurst     int     `env:"API_RATE_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"REDIS_URL":    cfg.RedisURL,
		"CATALOG_PATH": cfg.CatalogPath,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.SweepInterval < time.Second {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1s, got %s", cfg.SweepInterval)
	}
	if cfg.EnforcerTimeout <= 0 {
		return fmt.Errorf("ENFORCER_TIMEOUT must be positive, got %s", cfg.EnforcerTimeout)
	}
	if cfg.MaxLiftAttempts < 1 {
		return fmt.Errorf("MAX_LIFT_ATTEMPTS must be at least 1, got %d", cfg.MaxLiftAttempts)
	}
	if cfg.APIRatePerSecond <= 0 || cfg.APIRateBurst < 1 {
		return fmt.Errorf("invalid API rate limit configuration")
	}

	if cfg.AppEnv == "production" {
		if err := validateProductionSSL(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	return nil
}

func validateProductionSSL(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
