package rules

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr[T any](v T) *T {
	return &v
}

func percentRule(id string, value int64, accounts ...string) domain.CashbackRule {
	return domain.CashbackRule{
		ID:    id,
		Title: "Rule " + id,
		Validity: domain.Validity{
			Start: date("2024-05-01"),
			End:   date("2024-05-31"),
		},
		Reward: domain.Reward{
			Kind:  domain.RewardPercent,
			Value: decimal.NewFromInt(value),
		},
		AppliesTo: domain.AppliesTo{Accounts: accounts},
		Priority:  domain.DefaultRulePriority,
	}
}

func txnOn(day string, amount int64) domain.TxnContext {
	return domain.TxnContext{
		Amount:     decimal.NewFromInt(amount),
		Currency:   "RUB",
		OccurredOn: date(day),
	}
}

func TestMatchRuleAccountMembership(t *testing.T) {
	rule := percentRule("r1", 5, "Tinkoff Black")
	txn := txnOn("2024-05-10", 1000)

	assert.True(t, MatchRule(rule, txn, "Tinkoff Black"))
	assert.False(t, MatchRule(rule, txn, "Alfa Card"))
	assert.False(t, MatchRule(rule, txn, "tinkoff black"), "account names must match exactly")

	rule.AppliesTo.Accounts = nil
	assert.False(t, MatchRule(rule, txn, "Tinkoff Black"), "a rule with no accounts never matches")
}

func TestMatchRuleValidityBoundaries(t *testing.T) {
	rule := percentRule("r1", 5, "card")

	tests := []struct {
		day  string
		want bool
	}{
		{"2024-04-30", false},
		{"2024-05-01", true},
		{"2024-05-15", true},
		{"2024-05-31", true},
		{"2024-06-01", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchRule(rule, txnOn(tt.day, 100), "card"), "occurred on %s", tt.day)
	}
}

func TestMatchRuleCategories(t *testing.T) {
	rule := percentRule("r1", 5, "card")
	rule.Conditions.Categories = []string{"Еда/Вне дома", "Транспорт/Такси"}

	txn := txnOn("2024-05-10", 100)
	assert.False(t, MatchRule(rule, txn, "card"), "absent category must fail closed")

	txn.Category = ptr("Транспорт/Такси")
	assert.True(t, MatchRule(rule, txn, "card"))

	txn.Category = ptr("Прочее")
	assert.False(t, MatchRule(rule, txn, "card"))
}

func TestMatchRuleMerchants(t *testing.T) {
	rule := percentRule("r1", 5, "card")
	rule.Conditions.Merchants = []string{"yandex", "Lavka"}

	txn := txnOn("2024-05-10", 100)
	assert.False(t, MatchRule(rule, txn, "card"), "absent merchant must fail closed")

	txn.Merchant = ptr("YANDEX.GO Moscow")
	assert.True(t, MatchRule(rule, txn, "card"), "case-insensitive substring")

	txn.Merchant = ptr("Samokat")
	assert.False(t, MatchRule(rule, txn, "card"))
}

func TestMatchRuleMCC(t *testing.T) {
	rule := percentRule("r1", 5, "card")
	rule.Conditions.MCC = []int{5411, 5814}

	txn := txnOn("2024-05-10", 100)
	assert.False(t, MatchRule(rule, txn, "card"), "absent mcc must fail closed")

	txn.MCC = ptr(5814)
	assert.True(t, MatchRule(rule, txn, "card"))

	txn.MCC = ptr(4121)
	assert.False(t, MatchRule(rule, txn, "card"))
}

func TestMatchRuleExpression(t *testing.T) {
	pred, err := CompileExpression(`amount >= 500.0 && weekday == 6`)
	require.NoError(t, err)

	rule := percentRule("r1", 5, "card")
	rule.Conditions.Expression = `amount >= 500.0 && weekday == 6`
	rule.Conditions.Predicate = pred

	// 2024-05-11 is a Saturday
	assert.True(t, MatchRule(rule, txnOn("2024-05-11", 600), "card"))
	assert.False(t, MatchRule(rule, txnOn("2024-05-11", 100), "card"), "small amount")
	assert.False(t, MatchRule(rule, txnOn("2024-05-10", 600), "card"), "friday")

	rule.Conditions.Predicate = nil
	assert.False(t, MatchRule(rule, txnOn("2024-05-11", 600), "card"), "uncompiled expression must fail closed")
}

func TestEstimateRewardPercentWithCap(t *testing.T) {
	rule := percentRule("r1", 5, "card")
	rule.Reward.Cap = &domain.Cap{Period: domain.CapMonthly, Amount: decimal.NewFromInt(100), Currency: "RUB"}

	assert.Equal(t, "100.00", EstimateReward(rule, txnOn("2024-05-10", 3000)).StringFixed(2))
	assert.Equal(t, "50.00", EstimateReward(rule, txnOn("2024-05-10", 1000)).StringFixed(2))
}

func TestEstimateRewardFixed(t *testing.T) {
	rule := percentRule("r1", 0, "card")
	rule.Reward = domain.Reward{Kind: domain.RewardFixed, Value: decimal.NewFromInt(50)}

	for _, amount := range []int64{1, 100, 1_000_000} {
		assert.Equal(t, "50.00", EstimateReward(rule, txnOn("2024-05-10", amount)).StringFixed(2), "amount %d", amount)
	}
}

func TestEstimateRewardUnknownKindIsFixed(t *testing.T) {
	rule := percentRule("r1", 0, "card")
	rule.Reward = domain.Reward{Kind: "points", Value: decimal.NewFromInt(30)}

	assert.Equal(t, "30.00", EstimateReward(rule, txnOn("2024-05-10", 5000)).StringFixed(2))
}

func TestEstimateRewardRounding(t *testing.T) {
	rule := percentRule("r1", 0, "card")
	rule.Reward.Value = decimal.RequireFromString("1.5")

	txn := txnOn("2024-05-10", 0)
	txn.Amount = decimal.RequireFromString("10.33") // 0.15495
	assert.Equal(t, "0.15", EstimateReward(rule, txn).StringFixed(2))

	txn.Amount = decimal.RequireFromString("11") // 0.165, half away from zero
	assert.Equal(t, "0.17", EstimateReward(rule, txn).StringFixed(2))
}

func TestReason(t *testing.T) {
	rule := percentRule("r1", 5, "card")
	assert.Equal(t, "percent 5 with cap ∞", Reason(rule))

	rule.Reward.Cap = &domain.Cap{Amount: decimal.NewFromInt(300)}
	assert.Equal(t, "percent 5 with cap 300", Reason(rule))
}

func TestSuggestBestAccountPicksHighest(t *testing.T) {
	low := percentRule("low", 2, "A") // 80 on 4000
	high := percentRule("high", 3, "B")
	txn := txnOn("2024-05-10", 4000)

	best, err := SuggestBestAccount(txn, []domain.CashbackRule{low, high}, []string{"A", "B"})
	require.NoError(t, err)
	require.NotNil(t, best)

	assert.Equal(t, "B", best.Account)
	assert.Equal(t, "high", best.RuleID)
	assert.Equal(t, "120.00", best.EstimatedAmount.StringFixed(2))
	assert.NotEmpty(t, best.Reason)
}

func TestSuggestBestAccountTieKeepsFirst(t *testing.T) {
	first := percentRule("first", 5, "A", "B")
	second := percentRule("second", 5, "A", "B")
	txn := txnOn("2024-05-10", 1000)

	best, err := SuggestBestAccount(txn, []domain.CashbackRule{first, second}, []string{"B", "A"})
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "B", best.Account)
	assert.Equal(t, "first", best.RuleID)
}

func TestSuggestBestAccountNoMatch(t *testing.T) {
	rule := percentRule("r1", 5, "A")
	txn := txnOn("2024-05-10", 1000)

	tests := []struct {
		name     string
		rules    []domain.CashbackRule
		accounts []string
	}{
		{"EmptyRules", nil, []string{"A"}},
		{"EmptyAccounts", []domain.CashbackRule{rule}, nil},
		{"NoMatchingAccount", []domain.CashbackRule{rule}, []string{"Z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, err := SuggestBestAccount(txn, tt.rules, tt.accounts)
			require.NoError(t, err)
			assert.Nil(t, best)
		})
	}
}

func TestSuggestBestAccountRejectsInvalidAmount(t *testing.T) {
	rule := percentRule("r1", 5, "A")

	for _, amount := range []int64{0, -100} {
		_, err := SuggestBestAccount(txnOn("2024-05-10", amount), []domain.CashbackRule{rule}, []string{"A"})
		assert.ErrorIs(t, err, ErrInvalidTransaction, "amount %d", amount)
	}
}

func TestRankAccountsAgreesWithSuggest(t *testing.T) {
	var rules []domain.CashbackRule
	for i := 0; i < 6; i++ {
		rules = append(rules, percentRule(fmt.Sprintf("r%d", i), int64(i%3+1), "A", "B", "C"))
	}
	txn := txnOn("2024-05-10", 999)
	accounts := []string{"C", "A", "B"}

	ranking, err := RankAccounts(txn, rules, accounts)
	require.NoError(t, err)
	require.Len(t, ranking, 18)
	for i := 1; i < len(ranking); i++ {
		require.False(t, ranking[i].EstimatedAmount.GreaterThan(ranking[i-1].EstimatedAmount), "ranking not descending at %d", i)
	}

	best, err := SuggestBestAccount(txn, rules, accounts)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, ranking[0].Account, best.Account)
	assert.Equal(t, ranking[0].RuleID, best.RuleID)
}

func TestEngineSuggest(t *testing.T) {
	engine := NewEngine()
	rules := []domain.CashbackRule{percentRule("r1", 5, "A"), percentRule("r2", 1, "B")}

	res, err := engine.Suggest(context.Background(), txnOn("2024-05-10", 1000), rules, []string{"A", "B"})
	require.NoError(t, err)
	require.NotNil(t, res.Best)

	assert.Equal(t, "r1", res.Best.RuleID)
	assert.Len(t, res.Ranking, 2)
	assert.Equal(t, 2, res.RulesEvaluated)
	assert.Equal(t, 4, res.PairsEvaluated)
}

func TestEngineConcurrentUse(t *testing.T) {
	engine := NewEngine()
	rules := []domain.CashbackRule{percentRule("r1", 5, "A")}

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := engine.Suggest(context.Background(), txnOn("2024-05-10", int64(100+n)), rules, []string{"A"})
			if err != nil {
				errs <- err
				return
			}
			if res.Best == nil {
				errs <- fmt.Errorf("call %d: no recommendation", n)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
