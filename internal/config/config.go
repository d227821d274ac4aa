// Package config loads the cashwise configuration from defaults, an optional
// JSON file and CASHWISE_* environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/robfig/cron/v3"
)

// Load builds the configuration. The tier defaults are chosen by CASHWISE_TIER,
// then path (if not empty) is applied, then the remaining environment variables.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("CASHWISE_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := overrideFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile loads configuration from a JSON file over the current values.
func loadFromFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// overrideFromEnv applies environment variables; they take precedence over the file.
func overrideFromEnv(cfg *domain.Config) error {
	var errs []error

	setString(&cfg.Server.Host, "CASHWISE_HOST")
	errs = append(errs, setInt(&cfg.Server.Port, "CASHWISE_PORT"))
	setString(&cfg.Server.AllowedOrigins, "CASHWISE_ALLOWED_ORIGINS")

	setString(&cfg.Rules.Dir, "CASHWISE_RULES_DIR")
	setString(&cfg.Rules.Pattern, "CASHWISE_RULES_PATTERN")
	errs = append(errs, setDuration(&cfg.Rules.TTL, "CASHWISE_RULES_TTL"))
	setString(&cfg.Rules.ReloadCron, "CASHWISE_RELOAD_CRON")
	errs = append(errs, setInt(&cfg.Rules.LoaderWorkers, "CASHWISE_LOADER_WORKERS"))

	setString(&cfg.Repository.Driver, "CASHWISE_DB_DRIVER")
	setString(&cfg.Repository.SQLitePath, "CASHWISE_SQLITE_PATH")
	setString(&cfg.Repository.PostgresHost, "CASHWISE_POSTGRES_HOST")
	errs = append(errs, setInt(&cfg.Repository.PostgresPort, "CASHWISE_POSTGRES_PORT"))
	setString(&cfg.Repository.PostgresUser, "CASHWISE_POSTGRES_USER")
	setString(&cfg.Repository.PostgresPassword, "CASHWISE_POSTGRES_PASSWORD")
	setString(&cfg.Repository.PostgresDB, "CASHWISE_POSTGRES_DB")
	setString(&cfg.Repository.PostgresSSLMode, "CASHWISE_POSTGRES_SSLMODE")

	setString(&cfg.Cache.Type, "CASHWISE_CACHE_TYPE")
	setString(&cfg.Cache.RedisAddr, "CASHWISE_REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "CASHWISE_REDIS_PASSWORD")
	errs = append(errs, setDuration(&cfg.Cache.SuggestionTTL, "CASHWISE_SUGGESTION_TTL"))

	setString(&cfg.EventBus.Type, "CASHWISE_BUS_TYPE")
	setString(&cfg.EventBus.NATSUrl, "CASHWISE_NATS_URL")
	setString(&cfg.EventBus.NATSToken, "CASHWISE_NATS_TOKEN")

	errs = append(errs, setBool(&cfg.Worker.Enabled, "CASHWISE_ASYNC_WORKER"))
	if v := os.Getenv("CASHWISE_TENANTS"); v != "" {
		cfg.Worker.TenantIDs = splitList(v)
	}

	errs = append(errs, setBool(&cfg.RateLimit.Enabled, "CASHWISE_RATE_LIMIT_ENABLED"))
	errs = append(errs, setInt(&cfg.RateLimit.Requests, "CASHWISE_RATE_LIMIT"))
	errs = append(errs, setInt(&cfg.RateLimit.Window, "CASHWISE_RATE_LIMIT_WINDOW"))

	setString(&cfg.Logging.Level, "CASHWISE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "CASHWISE_LOG_FORMAT")
	if os.Getenv("CASHWISE_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	errs = append(errs, setBool(&cfg.Tracing.Enabled, "CASHWISE_TRACING"))
	setString(&cfg.Tracing.Endpoint, "CASHWISE_JAEGER_ENDPOINT")
	setString(&cfg.Tracing.Environment, "CASHWISE_ENVIRONMENT")

	return errors.Join(errs...)
}

// Validate checks the configuration for values the service cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if strings.TrimSpace(cfg.Rules.Dir) == "" {
		return errors.New("rules directory is required")
	}
	if cfg.Rules.TTL < 0 {
		return errors.New("rules ttl must not be negative")
	}
	if cfg.Rules.ReloadCron != "" {
		if _, err := cron.ParseStandard(cfg.Rules.ReloadCron); err != nil {
			return fmt.Errorf("invalid reload cron %q: %w", cfg.Rules.ReloadCron, err)
		}
	}

	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" {
			return errors.New("postgres host is required")
		}
	default:
		return fmt.Errorf("unsupported repository driver: %s", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "", "memory":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			return errors.New("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
	}
	if cfg.Cache.SuggestionTTL < 0 {
		return errors.New("suggestion ttl must not be negative")
	}

	switch cfg.EventBus.Type {
	case "", "channel":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			return errors.New("nats url is required")
		}
	default:
		return fmt.Errorf("unsupported event bus type: %s", cfg.EventBus.Type)
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Requests <= 0 {
			return errors.New("rate limit requests must be positive")
		}
		if cfg.RateLimit.Window <= 0 {
			return errors.New("rate limit window must be positive")
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return errors.New("tracing endpoint is required when tracing is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
