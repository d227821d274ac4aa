package rules

import (
	"testing"

	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileExpression(t *testing.T) {
	txn := domain.TxnContext{
		Amount:     decimal.NewFromInt(1200),
		Currency:   "RUB",
		OccurredOn: date("2024-05-12"), // Sunday
		Category:   ptr("Супермаркеты"),
		Merchant:   ptr("Perekrestok"),
		MCC:        ptr(5411),
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`amount > 1000.0`, true},
		{`amount > 5000.0`, false},
		{`currency == "RUB"`, true},
		{`weekday == 0 || weekday == 6`, true},
		{`mcc == 5411 && category.startsWith("Супер")`, true},
		{`merchant.contains("Pyaterochka")`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			pred, err := CompileExpression(tt.expr)
			require.NoError(t, err)

			got, err := pred(txn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileExpressionAbsentFields(t *testing.T) {
	pred, err := CompileExpression(`category == "" && mcc == 0`)
	require.NoError(t, err)

	got, err := pred(txnOn("2024-05-10", 100))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCompileExpressionErrors(t *testing.T) {
	for _, expr := range []string{`amount >`, `unknown_var == 1`, `amount + 1.0`} {
		_, err := CompileExpression(expr)
		assert.Error(t, err, expr)
	}
}
