package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./cashback", cfg.Rules.Dir)
	assert.Equal(t, time.Duration(0), cfg.Rules.TTL, "the corpus is re-read on every call by default")
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("CASHWISE_TIER", "pro")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Worker.Enabled)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cashwise.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": 9090},
		"rules": {"dir": "/etc/cashwise/rules", "reloadCron": "@every 5m"},
		"rateLimit": {"enabled": true, "requests": 10, "window": 1}
	}`), 0o644))

	t.Setenv("CASHWISE_PORT", "9191")
	t.Setenv("CASHWISE_RULES_TTL", "30s")
	t.Setenv("CASHWISE_TENANTS", "alpha, beta,,")
	t.Setenv("CASHWISE_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, "/etc/cashwise/rules", cfg.Rules.Dir)
	assert.Equal(t, "@every 5m", cfg.Rules.ReloadCron)
	assert.Equal(t, 30*time.Second, cfg.Rules.TTL)
	assert.Equal(t, 10, cfg.RateLimit.Requests)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Worker.TenantIDs)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format, "unset values keep their defaults")
}

func TestLoadErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("MalformedFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("BadEnvNumber", func(t *testing.T) {
		t.Setenv("CASHWISE_PORT", "eighty")
		_, err := Load("")
		assert.ErrorContains(t, err, "CASHWISE_PORT")
	})

	t.Run("BadEnvDuration", func(t *testing.T) {
		t.Setenv("CASHWISE_RULES_TTL", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "CASHWISE_RULES_TTL")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		errMsg string
	}{
		{"Defaults", func(*domain.Config) {}, ""},
		{"BadPort", func(c *domain.Config) { c.Server.Port = 0 }, "server port"},
		{"NoRulesDir", func(c *domain.Config) { c.Rules.Dir = " " }, "rules directory"},
		{"NegativeTTL", func(c *domain.Config) { c.Rules.TTL = -time.Second }, "rules ttl"},
		{"BadCron", func(c *domain.Config) { c.Rules.ReloadCron = "every five minutes" }, "reload cron"},
		{"GoodCron", func(c *domain.Config) { c.Rules.ReloadCron = "*/5 * * * *" }, ""},
		{"UnknownDriver", func(c *domain.Config) { c.Repository.Driver = "mysql" }, "repository driver"},
		{"NoSQLitePath", func(c *domain.Config) { c.Repository.SQLitePath = "" }, "sqlite path"},
		{"RedisWithoutAddr", func(c *domain.Config) { c.Cache.Type = "redis" }, "redis address"},
		{"UnknownCache", func(c *domain.Config) { c.Cache.Type = "memcached" }, "cache type"},
		{"NATSWithoutURL", func(c *domain.Config) { c.EventBus.Type = "nats" }, "nats url"},
		{"UnknownBus", func(c *domain.Config) { c.EventBus.Type = "kafka" }, "event bus type"},
		{"ZeroRateLimit", func(c *domain.Config) { c.RateLimit.Requests = 0 }, "rate limit requests"},
		{"RateLimitDisabled", func(c *domain.Config) { c.RateLimit = domain.RateLimitConfig{} }, ""},
		{"TracingWithoutEndpoint", func(c *domain.Config) { c.Tracing.Enabled = true }, "tracing endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}

	assert.NoError(t, Validate(domain.ProConfig()))
}
