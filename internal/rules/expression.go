package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/cashwise/internal/domain"
)

var (
	exprEnvOnce sync.Once
	exprEnv     *cel.Env
	exprEnvErr  error
)

// expressionEnv returns the CEL environment shared by every rule expression.
func expressionEnv() (*cel.Env, error) {
	exprEnvOnce.Do(func() {
		exprEnv, exprEnvErr = cel.NewEnv(
			cel.Variable("amount", cel.DoubleType),
			cel.Variable("currency", cel.StringType),
			cel.Variable("category", cel.StringType),
			cel.Variable("merchant", cel.StringType),
			cel.Variable("mcc", cel.IntType),
			cel.Variable("weekday", cel.IntType), // 0 = Sunday
		)
		if exprEnvErr != nil {
			exprEnvErr = fmt.Errorf("failed to create CEL environment: %w", exprEnvErr)
		}
	})
	return exprEnv, exprEnvErr
}

// CompileExpression compiles a boolean CEL expression into a transaction predicate.
// Absent transaction fields are exposed as "" or 0.
func CompileExpression(expr string) (domain.Predicate, error) {
	env, err := expressionEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	return func(txn domain.TxnContext) (bool, error) {
		out, _, err := program.Eval(activation(txn))
		if err != nil {
			return false, err
		}
		b, ok := out.(types.Bool)
		if !ok {
			return false, fmt.Errorf("expression returned %s", out.Type())
		}
		return bool(b), nil
	}, nil
}

func activation(txn domain.TxnContext) map[string]any {
	vars := map[string]any{
		"amount":   txn.Amount.InexactFloat64(),
		"currency": txn.Currency,
		"category": "",
		"merchant": "",
		"mcc":      int64(0),
		"weekday":  int64(txn.OccurredOn.In(time.UTC).Weekday()),
	}
	if txn.Category != nil {
		vars["category"] = *txn.Category
	}
	if txn.Merchant != nil {
		vars["merchant"] = *txn.Merchant
	}
	if txn.MCC != nil {
		vars["mcc"] = int64(*txn.MCC)
	}
	return vars
}
