// Package rules provides the cashback rule model, the corpus loader and the
// matching and scoring engine.
package rules

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidTransaction is returned for transaction facts the engine cannot score.
var ErrInvalidTransaction = errors.New("invalid transaction")

// EstimatePlaces is the number of decimal places estimates are rounded to.
const EstimatePlaces = 2

var tracer = otel.Tracer("cashwise-rules")

// MatchRule reports whether rule applies to txn when paid with account.
func MatchRule(rule domain.CashbackRule, txn domain.TxnContext, account string) bool {
	if !slices.Contains(rule.AppliesTo.Accounts, account) {
		return false
	}
	if !rule.Validity.Contains(txn.OccurredOn) {
		return false
	}

	cond := rule.Conditions
	if len(cond.Categories) > 0 {
		if txn.Category == nil || !slices.Contains(cond.Categories, *txn.Category) {
			return false
		}
	}
	if len(cond.Merchants) > 0 {
		if txn.Merchant == nil || !merchantMatches(cond.Merchants, *txn.Merchant) {
			return false
		}
	}
	if len(cond.MCC) > 0 {
		if txn.MCC == nil || !slices.Contains(cond.MCC, *txn.MCC) {
			return false
		}
	}
	if cond.Expression != "" {
		if cond.Predicate == nil {
			return false
		}
		ok, err := cond.Predicate(txn)
		if err != nil || !ok {
			return false
		}
	}

	return true
}

func merchantMatches(patterns []string, merchant string) bool {
	name := strings.ToLower(merchant)
	for _, p := range patterns {
		if strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// EstimateReward computes the capped reward of rule for txn, rounded half away
// from zero to two places. Any kind other than percent is paid as a fixed amount.
func EstimateReward(rule domain.CashbackRule, txn domain.TxnContext) decimal.Decimal {
	var cash decimal.Decimal
	if rule.Reward.Kind == domain.RewardPercent {
		cash = txn.Amount.Mul(rule.Reward.Value).Div(hundred)
	} else {
		cash = rule.Reward.Value
	}

	if rule.Reward.Cap != nil {
		cash = decimal.Min(cash, rule.Reward.Cap.Amount)
	}

	return cash.Round(EstimatePlaces)
}

// Reason describes the reward of rule for display.
func Reason(rule domain.CashbackRule) string {
	limit := "∞"
	if rule.Reward.Cap != nil {
		limit = rule.Reward.Cap.Amount.String()
	}
	return fmt.Sprintf("%s %s with cap %s", rule.Reward.Kind, rule.Reward.Value.String(), limit)
}

// ValidateTransaction rejects transaction facts that cannot be scored.
func ValidateTransaction(txn domain.TxnContext) error {
	if !txn.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	if !txn.OccurredOn.IsValid() {
		return fmt.Errorf("%w: occurred_on is required", ErrInvalidTransaction)
	}
	return nil
}

// SuggestBestAccount evaluates every candidate account against every rule and
// returns the highest estimate. Ties keep the first pairing seen, so account
// order and then rule order break them. Returns nil, nil when nothing matches.
func SuggestBestAccount(txn domain.TxnContext, rules []domain.CashbackRule, accounts []string) (*domain.CashbackEstimate, error) {
	if err := ValidateTransaction(txn); err != nil {
		return nil, err
	}

	var best *domain.CashbackEstimate
	for _, acc := range accounts {
		for _, rule := range rules {
			if !MatchRule(rule, txn, acc) {
				continue
			}
			cur := estimate(rule, txn, acc)
			if best == nil || cur.EstimatedAmount.GreaterThan(best.EstimatedAmount) {
				best = &cur
			}
		}
	}
	return best, nil
}

// RankAccounts returns every matching pairing, highest estimate first.
// The first element, if any, equals SuggestBestAccount's result.
func RankAccounts(txn domain.TxnContext, rules []domain.CashbackRule, accounts []string) ([]domain.CashbackEstimate, error) {
	if err := ValidateTransaction(txn); err != nil {
		return nil, err
	}

	var ranking []domain.CashbackEstimate
	for _, acc := range accounts {
		for _, rule := range rules {
			if MatchRule(rule, txn, acc) {
				ranking = append(ranking, estimate(rule, txn, acc))
			}
		}
	}

	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].EstimatedAmount.GreaterThan(ranking[j].EstimatedAmount)
	})
	return ranking, nil
}

func estimate(rule domain.CashbackRule, txn domain.TxnContext, account string) domain.CashbackEstimate {
	return domain.CashbackEstimate{
		Account:         account,
		RuleID:          rule.ID,
		RuleTitle:       rule.Title,
		EstimatedAmount: EstimateReward(rule, txn),
		Reason:          Reason(rule),
	}
}

// Engine wraps the scoring functions with tracing for use by services.
// It holds no state and is safe for concurrent use.
type Engine struct{}

// NewEngine creates a new engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Result is the outcome of one suggestion.
type Result struct {
	// Best is nil when no pairing matched.
	Best           *domain.CashbackEstimate
	Ranking        []domain.CashbackEstimate
	RulesEvaluated int
	PairsEvaluated int
}

// Suggest ranks the candidate accounts for txn against rules.
func (e *Engine) Suggest(ctx context.Context, txn domain.TxnContext, rules []domain.CashbackRule, accounts []string) (*Result, error) {
	_, span := tracer.Start(ctx, "rules.Suggest",
		trace.WithAttributes(
			attribute.Int("rules.count", len(rules)),
			attribute.Int("accounts.count", len(accounts)),
		),
	)
	defer span.End()

	ranking, err := RankAccounts(txn, rules, accounts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res := &Result{
		Ranking:        ranking,
		RulesEvaluated: len(rules),
		PairsEvaluated: len(rules) * len(accounts),
	}
	if len(ranking) > 0 {
		best := ranking[0]
		res.Best = &best
		span.SetAttributes(
			attribute.String("suggestion.account", best.Account),
			attribute.String("suggestion.rule_id", best.RuleID),
		)
	}

	return res, nil
}
