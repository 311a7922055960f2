package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/transform"
)

// evaluate reports whether c holds. An expression is evaluated with the
// successful results bound to "results" and the inbound parameters to
// "params". A comparison whose field cannot be resolved does not hold.
func (r *run) evaluate(ctx context.Context, c *config.Condition) (bool, error) {
	if c.Expression != "" {
		return r.agg.evaluator.EvalBool(ctx, c.Expression, map[string]any{
			transform.VarResults: r.successes(),
			transform.VarParams:  r.params,
		})
	}

	left, ok := r.field(c.Field)
	if !ok {
		return false, nil
	}
	return compare(left, c.Operator, c.Value)
}

// field resolves $call.path against results and @name against the
// inbound parameters.
func (r *run) field(ref string) (any, bool) {
	switch {
	case strings.HasPrefix(ref, "$"):
		return r.reference(ref[1:])
	case strings.HasPrefix(ref, "@"):
		v, ok := r.params[ref[1:]]
		return v, ok
	default:
		return nil, false
	}
}

func compare(left any, op string, right any) (bool, error) {
	switch op {
	case config.OpEqual:
		return equal(left, right), nil
	case config.OpNotEqual:
		return !equal(left, right), nil
	case config.OpGreater, config.OpLess:
		if l, ok := toFloat(left); ok {
			if rv, ok := toFloat(right); ok {
				if op == config.OpGreater {
					return l > rv, nil
				}
				return l < rv, nil
			}
		}
		ls, lok := left.(string)
		rs, rok := right.(string)
		if !lok || !rok {
			return false, nil
		}
		if op == config.OpGreater {
			return ls > rs, nil
		}
		return ls < rs, nil
	case config.OpIn, config.OpNotIn:
		found := false
		for _, item := range asList(right) {
			if equal(left, item) {
				found = true
				break
			}
		}
		if op == config.OpIn {
			return found, nil
		}
		return !found, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

// equal compares numerically when both sides are numbers or numeric
// strings, and by their text otherwise.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{t}
	}
}
