package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DBMaxConns         int
	RedisURL           string
	CORSAllowedOrigins []string

	AdminJWTSecret   string
	AdminJWTIssuer   string
	AdminJWTAudience string
	AdminJWTRole     string

	DiscountBase      pricing.DiscountBase
	SkipOnSale        bool
	OnlyNonDiscounted bool
	CommitPolicy      pricing.Policy

	RulesCacheTTL   time.Duration
	CatalogCacheTTL time.Duration
	QuoteRateLimit  string

	CacheBreakerMinRequests  int
	CacheBreakerFailureRatio float64
	CacheBreakerOpenFor      time.Duration

	WorkerConcurrency int
	WorkerQueue       string
	WorkerRetryBase   time.Duration
	WorkerRetryMax    time.Duration
	MigrateOnStart    bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:                   valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                     valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:              k.String("DATABASE_URL"),
		DBMaxConns:               parseInt(k.String("DB_MAX_CONNS"), 0),
		RedisURL:                 k.String("REDIS_URL"),
		AdminJWTSecret:           strings.TrimSpace(k.String("ADMIN_JWT_SECRET")),
		AdminJWTIssuer:           valueOrDefault(k.String("ADMIN_JWT_ISSUER"), "toko-pricing"),
		AdminJWTAudience:         valueOrDefault(k.String("ADMIN_JWT_AUDIENCE"), "toko-pricing-admin"),
		AdminJWTRole:             valueOrDefault(k.String("ADMIN_JWT_ROLE"), "pricing_admin"),
		CORSAllowedOrigins:       splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		DiscountBase:             pricing.DiscountBase(valueOrDefault(k.String("PRICING_DISCOUNT_BASE"), string(pricing.BaseSalePrice))),
		SkipOnSale:               parseBool(k.String("PRICING_SKIP_ON_SALE")),
		OnlyNonDiscounted:        parseBool(k.String("PRICING_ONLY_NON_DISCOUNTED")),
		CommitPolicy:             pricing.ParsePolicy(strings.ToLower(strings.TrimSpace(k.String("PRICING_COMMIT_POLICY")))),
		RulesCacheTTL:            parseDuration(k.String("RULES_CACHE_TTL"), "1m"),
		CatalogCacheTTL:          parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		QuoteRateLimit:           valueOrDefault(k.String("QUOTE_RATE_LIMIT"), "120-M"),
		WorkerConcurrency:        parseInt(k.String("WORKER_CONCURRENCY"), 10),
		WorkerQueue:              valueOrDefault(k.String("WORKER_QUEUE"), "pricing"),
		WorkerRetryBase:          parseDuration(k.String("WORKER_RETRY_BASE"), "1s"),
		WorkerRetryMax:           parseDuration(k.String("WORKER_RETRY_MAX"), "5m"),
		CacheBreakerMinRequests:  parseInt(k.String("CACHE_BREAKER_MIN_REQUESTS"), 20),
		CacheBreakerFailureRatio: parseFloat(k.String("CACHE_BREAKER_FAILURE_RATIO"), 0.5),
		CacheBreakerOpenFor:      parseDuration(k.String("CACHE_BREAKER_OPEN_FOR"), "30s"),
		MigrateOnStart:           parseBool(k.String("MIGRATE_ON_START")),
	}

	switch cfg.DiscountBase {
	case pricing.BaseRegularPrice, pricing.BaseSalePrice:
	default:
		return nil, fmt.Errorf("PRICING_DISCOUNT_BASE %q must be regular_price or sale_price", cfg.DiscountBase)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	if cfg.AdminJWTSecret != "" && len(cfg.AdminJWTSecret) < 32 {
		return nil, errors.New("ADMIN_JWT_SECRET must be at least 32 bytes")
	}

	return cfg, nil
}

// PricingSettings returns the store-wide matcher settings.
func (c *Config) PricingSettings() pricing.Settings {
	return pricing.Settings{
		DiscountBase:      c.DiscountBase,
		SkipOnSale:        c.SkipOnSale,
		OnlyNonDiscounted: c.OnlyNonDiscounted,
	}
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
