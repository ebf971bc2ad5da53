// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/ticker"
)

type Config struct {
	Env             string `env:"ENV" env-default:"local"`
	StartingBalance string `env:"STARTING_BALANCE" env-default:"1000000.00"`
	HTTP            HTTPConfig
	Database        DBConfig
	Redis           RedisConfig
	Quotes          QuoteConfig
	Auth            AuthConfig
}

type HTTPConfig struct {
	Port            string        `env:"PORT" env-default:"8080"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" env-default:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type DBConfig struct {
	// Empty selects the in-memory store.
	URL string `env:"DATABASE_URL"`
}

type RedisConfig struct {
	// Empty disables the position cache, the quote cache and the
	// distributed user lock.
	URL      string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"REDIS_CACHE_TTL" env-default:"30s"`
	LockTTL  time.Duration `env:"REDIS_LOCK_TTL" env-default:"10s"`
}

type QuoteConfig struct {
	Provider  string        `env:"QUOTE_PROVIDER" env-default:"alphavantage"` // alphavantage | static
	APIKey    string        `env:"API_KEY"`
	BaseURL   string        `env:"QUOTE_BASE_URL" env-default:"https://www.alphavantage.co/query"`
	Timeout   time.Duration `env:"QUOTE_TIMEOUT" env-default:"10s"`
	Retries   int           `env:"QUOTE_RETRIES" env-default:"3"`
	CacheTTL  time.Duration `env:"QUOTE_CACHE_TTL" env-default:"60s"`
	StaticSet string        `env:"QUOTE_STATIC_PRICES" env-default:"AAPL=150,MSFT=400,GOOG=140"`
}

type AuthConfig struct {
	Secret   string        `env:"JWT_SECRET" env-required:"true"`
	TokenTTL time.Duration `env:"JWT_TTL" env-default:"24h"`
}

// Load reads the configuration and validates derived values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment variables")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if _, err := cfg.Balance(); err != nil {
		return nil, err
	}
	switch cfg.Quotes.Provider {
	case "alphavantage":
		if cfg.Quotes.APIKey == "" {
			return nil, fmt.Errorf("config: API_KEY is required for the alphavantage provider")
		}
	case "static":
		if _, err := cfg.StaticPrices(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("config: unknown QUOTE_PROVIDER %q", cfg.Quotes.Provider)
	}
	return &cfg, nil
}

// MustLoad is Load that exits the process on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	return cfg
}

// Balance parses StartingBalance.
func (c *Config) Balance() (decimal.Decimal, error) {
	b, err := decimal.NewFromString(c.StartingBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: STARTING_BALANCE %q: %w", c.StartingBalance, err)
	}
	if b.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: STARTING_BALANCE must not be negative")
	}
	return b, nil
}

// StaticPrices parses QUOTE_STATIC_PRICES ("AAPL=150,MSFT=400").
func (c *Config) StaticPrices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	if c.Quotes.StaticSet == "" {
		return out, nil
	}
	for _, pair := range strings.Split(c.Quotes.StaticSet, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		raw, price, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("config: QUOTE_STATIC_PRICES entry %q: want TICKER=PRICE", pair)
		}
		sym, err := ticker.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("config: QUOTE_STATIC_PRICES entry %q: %w", pair, err)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil || !p.IsPositive() {
			return nil, fmt.Errorf("config: QUOTE_STATIC_PRICES entry %q: price must be a positive number", pair)
		}
		out[sym] = p
	}
	return out, nil
}
