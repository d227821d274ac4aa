// Package repository persists the account registry on SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/cashwise/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultAccountCurrency is used when an account is saved without a currency.
const DefaultAccountCurrency = "RUB"

// SQLRepository implements domain.Repository using database/sql.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAccount inserts the account or updates the tenant's account of the same name.
// On return account carries the stored ID and timestamps.
func (r *SQLRepository) SaveAccount(ctx context.Context, tenantID string, account *domain.Account) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if account == nil || strings.TrimSpace(account.Name) == "" {
		return fmt.Errorf("%w: account name is required", ErrInvalidInput)
	}
	if account.Type == "" {
		account.Type = domain.AccountCard
	}
	if !account.Type.Valid() {
		return fmt.Errorf("%w: unknown account type %q", ErrInvalidInput, account.Type)
	}
	if account.Currency == "" {
		account.Currency = DefaultAccountCurrency
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO accounts (id, tenant_id, name, type, currency, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, name) DO UPDATE SET
			type = excluded.type,
			currency = excluded.currency,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, r.rebind(query),
		account.ID, tenantID, account.Name, string(account.Type), account.Currency,
		boolToInt(account.Active), now, now,
	); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	stored, err := r.scanAccount(r.db.QueryRowContext(ctx, r.rebind(selectAccount+`WHERE tenant_id = ? AND name = ?`), tenantID, account.Name))
	if err != nil {
		return err
	}
	*account = *stored
	return nil
}

const selectAccount = `
	SELECT id, tenant_id, name, type, currency, active, created_at, updated_at
	FROM accounts
`

// GetAccount retrieves an account by ID with tenant isolation.
func (r *SQLRepository) GetAccount(ctx context.Context, tenantID string, accountID string) (*domain.Account, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	return r.scanAccount(r.db.QueryRowContext(ctx, r.rebind(selectAccount+`WHERE tenant_id = ? AND id = ?`), tenantID, accountID))
}

// ListAccounts returns the tenant's accounts ordered by name.
func (r *SQLRepository) ListAccounts(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.Account, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectAccount + `WHERE tenant_id = ?`
	args := []any{tenantID}
	if activeOnly {
		query += ` AND active = ?`
		args = append(args, 1)
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []*domain.Account{}
	for rows.Next() {
		acc, err := r.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	return accounts, rows.Err()
}

// DeactivateAccount marks an account inactive. It stays listed with activeOnly false.
func (r *SQLRepository) DeactivateAccount(ctx context.Context, tenantID string, accountID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE accounts
		SET active = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, accountID)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		acc     domain.Account
		accType string
		active  int
	)

	err := row.Scan(
		&acc.ID, &acc.TenantID, &acc.Name, &accType, &acc.Currency,
		&active, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	acc.Type = domain.AccountType(accType)
	acc.Active = active == 1
	return &acc, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
