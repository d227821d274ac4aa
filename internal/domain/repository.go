// Package domain defines the core interfaces and types for cashwise.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for the account registry.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Account operations
	SaveAccount(ctx context.Context, tenantID string, account *Account) error
	GetAccount(ctx context.Context, tenantID string, accountID string) (*Account, error)
	ListAccounts(ctx context.Context, tenantID string, activeOnly bool) ([]*Account, error)
	DeactivateAccount(ctx context.Context, tenantID string, accountID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost"`
	PostgresPort     int    `json:"postgresPort"`
	PostgresUser     string `json:"postgresUser"`
	PostgresPassword string `json:"-"`
	PostgresDB       string `json:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}
