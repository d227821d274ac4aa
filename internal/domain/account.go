package domain

import "time"

// AccountType classifies a payment account.
type AccountType string

const (
	AccountCard   AccountType = "card"
	AccountWallet AccountType = "wallet"
	AccountBroker AccountType = "broker"
	AccountCrypto AccountType = "crypto"
	AccountOther  AccountType = "other"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountCard, AccountWallet, AccountBroker, AccountCrypto, AccountOther:
		return true
	}
	return false
}

// Account is a payment account registered by a tenant.
// Name is what rule files refer to in applies_to.accounts.
type Account struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenantId"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Currency  string      `json:"currency"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
