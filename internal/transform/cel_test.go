package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_EvalBool(t *testing.T) {
	t.Parallel()

	e, err := NewEvaluator()
	require.NoError(t, err)

	vars := map[string]any{
		VarResults: map[string]any{
			"user":   map[string]any{"active": true, "tier": "gold", "score": 7.0},
			"orders": []any{1.0, 2.0},
		},
		VarParams: map[string]string{"region": "eu"},
	}

	tests := []struct {
		name     string
		expr     string
		expected bool
	}{
		{name: "field equality", expr: `results.user.active == true`, expected: true},
		{name: "mixed numeric comparison", expr: `results.user.score > 5`, expected: true},
		{name: "membership", expr: `results.user.tier in ["gold", "platinum"]`, expected: true},
		{name: "params", expr: `params.region == "us"`, expected: false},
		{name: "has macro on missing field", expr: `has(results.user.banned)`, expected: false},
		{name: "list size", expr: `size(results.orders) == 2`, expected: true},
		{name: "string helper", expr: `params.region.startsWith("e")`, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := e.EvalBool(context.Background(), tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluator_Errors(t *testing.T) {
	t.Parallel()

	e, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	err = e.Compile(`data..x`)
	assert.ErrorIs(t, err, ErrExpression)

	err = e.Compile(`unknownVar == 1`)
	assert.ErrorIs(t, err, ErrExpression)

	_, err = e.EvalBool(ctx, `1 + 1`, nil)
	assert.ErrorIs(t, err, ErrExpression)

	_, err = e.Eval(ctx, `data.missing.field`, map[string]any{VarData: map[string]any{}})
	assert.ErrorIs(t, err, ErrExpression)
}

func TestEvaluator_CostLimit(t *testing.T) {
	t.Parallel()

	e, err := NewEvaluator(WithCostLimit(5))
	require.NoError(t, err)

	_, err = e.Eval(context.Background(), `[1, 2, 3, 4, 5, 6, 7, 8, 9, 10].map(x, x * 2)`, nil)
	assert.ErrorIs(t, err, ErrExpression)
}

func TestEvaluator_CachesPrograms(t *testing.T) {
	t.Parallel()

	e, err := NewEvaluator()
	require.NoError(t, err)

	require.NoError(t, e.Compile(`data == null`))
	require.NoError(t, e.Compile(`data == null`))

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.programs, 1)
}
