package domain

import "time"

// Config holds the complete cashwise configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Rule corpus settings
	Rules RulesConfig `json:"rules"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Worker     WorkerConfig     `json:"worker"`
	RateLimit  RateLimitConfig  `json:"rateLimit"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ReadTimeout    int    `json:"readTimeout"`  // seconds
	WriteTimeout   int    `json:"writeTimeout"` // seconds
	AllowedOrigins string `json:"allowedOrigins"`
}

// RulesConfig describes where the rule corpus comes from and how long a loaded corpus is reused.
type RulesConfig struct {
	Dir     string `json:"dir"`
	Pattern string `json:"pattern"`

	// TTL of a loaded corpus snapshot. Zero re-reads the files on every suggestion.
	TTL time.Duration `json:"ttl"`

	// ReloadCron is an optional cron spec (e.g. "@every 5m") for background reloads.
	ReloadCron string `json:"reloadCron"`

	// LoaderWorkers bounds concurrent file reads.
	LoaderWorkers int `json:"loaderWorkers"`
}

// WorkerConfig controls the async suggestion worker.
type WorkerConfig struct {
	Enabled   bool     `json:"enabled"`
	TenantIDs []string `json:"tenantIds"`
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	Enabled  bool `json:"enabled"`
	Requests int  `json:"requests"` // per window
	Window   int  `json:"window"`   // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Environment string `json:"environment"`
	Endpoint    string `json:"endpoint"` // Jaeger collector endpoint
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels + in-process cache
	TierCommunity Tier = "community"

	// TierPro is the tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			AllowedOrigins: "*",
		},
		Tier: TierCommunity,
		Rules: RulesConfig{
			Dir:           "./cashback",
			Pattern:       "*.yaml",
			LoaderWorkers: 4,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./cashwise.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			SuggestionTTL: time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 100,
			Window:   60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "cashwise",
			Environment: "development",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "cashwise",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		SuggestionTTL:  5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Rules.TTL = time.Minute
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "http://localhost:14268/api/traces"
	return cfg
}
