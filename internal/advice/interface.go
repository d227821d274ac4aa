package advice

import (
	"context"

	"github.com/opensource-finance/cashwise/internal/corpus"
	"github.com/opensource-finance/cashwise/internal/domain"
)

// RuleSource yields the rule corpus to evaluate against.
//
//go:generate mockgen -destination=mocks/mock_advice.go -package=mock_advice -source=interface.go RuleSource AccountDirectory
type RuleSource interface {
	Current(ctx context.Context) (*corpus.Snapshot, error)
}

// AccountDirectory lists a tenant's registered accounts.
// domain.Repository satisfies it.
type AccountDirectory interface {
	ListAccounts(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.Account, error)
}
