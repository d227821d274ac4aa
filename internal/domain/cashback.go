package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// RewardKind determines how a reward value is applied to a transaction.
type RewardKind string

const (
	// RewardPercent treats the value as a percentage (0-100) of the transaction amount.
	RewardPercent RewardKind = "percent"

	// RewardFixed treats the value as an absolute amount, independent of the transaction.
	RewardFixed RewardKind = "fixed"
)

// Valid reports whether k is one of the recognized reward kinds.
func (k RewardKind) Valid() bool {
	return k == RewardPercent || k == RewardFixed
}

// CapPeriod is the accounting period a cap is declared for.
// Only the per-transaction ceiling is enforced; usage across a period is not tracked.
type CapPeriod string

const (
	CapMonthly CapPeriod = "monthly"
	CapWeekly  CapPeriod = "weekly"
	CapTotal   CapPeriod = "total"
)

// Valid reports whether p is one of the recognized cap periods.
func (p CapPeriod) Valid() bool {
	switch p {
	case CapMonthly, CapWeekly, CapTotal:
		return true
	}
	return false
}

// Defaults applied to rule documents.
const (
	DefaultRulePriority = 100
	DefaultCapCurrency  = "RUB"
)

// Validity is an inclusive date range.
type Validity struct {
	Start civil.Date `json:"start"`
	End   civil.Date `json:"end"`
}

// Contains reports whether d falls within the range, both ends included.
func (v Validity) Contains(d civil.Date) bool {
	return !d.Before(v.Start) && !d.After(v.End)
}

// Cap is a ceiling on the reward computed for a single transaction.
type Cap struct {
	Period   CapPeriod       `json:"period"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Reward describes what a matching rule pays out.
type Reward struct {
	Kind  RewardKind      `json:"kind"`
	Value decimal.Decimal `json:"value"`
	Cap   *Cap            `json:"cap,omitempty"`
}

// Predicate is a compiled transaction filter attached to a rule at parse time.
type Predicate func(txn TxnContext) (bool, error)

// Conditions are the transaction filters of a rule.
// An empty filter places no constraint on its dimension.
type Conditions struct {
	Categories []string `json:"categories"`
	MCC        []int    `json:"mcc"`
	Merchants  []string `json:"merchants"`
	Tags       []string `json:"tags"` // reserved, not used for matching

	// Expression is an optional CEL boolean expression over the transaction.
	Expression string    `json:"expression,omitempty"`
	Predicate  Predicate `json:"-"`
}

// AppliesTo lists the account names a rule is valid for.
// An empty list never matches.
type AppliesTo struct {
	Accounts []string `json:"accounts"`
}

// CashbackRule is a single time-bounded, conditional reward rule.
type CashbackRule struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Validity   Validity   `json:"validity"`
	Reward     Reward     `json:"reward"`
	Conditions Conditions `json:"conditions"`
	AppliesTo  AppliesTo  `json:"appliesTo"`

	// Priority orders rules in a corpus, lower is more important.
	Priority int `json:"priority"`

	// Stackable is informational; rules are never combined.
	Stackable bool   `json:"stackable"`
	Notes     string `json:"notes,omitempty"`
}

// CashbackRulesFile is one rule document, usually one per month.
type CashbackRulesFile struct {
	Month string         `json:"month"` // YYYY-MM, descriptive only
	Rules []CashbackRule `json:"rules"`
}

// TxnContext holds the facts of the transaction being evaluated.
// Nil optional fields are absent and make the matching filter fail closed.
type TxnContext struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	OccurredOn civil.Date      `json:"occurredOn"`
	Category   *string         `json:"category,omitempty"`
	Merchant   *string         `json:"merchant,omitempty"`
	MCC        *int            `json:"mcc,omitempty"`
}

// CashbackEstimate is the computed reward for one (account, rule) pairing.
type CashbackEstimate struct {
	Account         string          `json:"account"`
	RuleID          string          `json:"ruleId"`
	RuleTitle       string          `json:"ruleTitle"`
	EstimatedAmount decimal.Decimal `json:"estimatedAmount"`
	Reason          string          `json:"reason"`
}
