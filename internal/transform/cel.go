package transform

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// Variables visible to expressions.
const (
	// VarData is the payload of a custom transform.
	VarData = "data"
	// VarResults holds the results of earlier aggregation calls by name.
	VarResults = "results"
	// VarParams holds inbound path and query parameters.
	VarParams = "params"
)

// DefaultCostLimit bounds the work a single evaluation may perform.
const DefaultCostLimit uint64 = 100000

// ErrExpression is wrapped by every compile and evaluation failure.
var ErrExpression = errors.New("expression error")

var structValueType = reflect.TypeOf(&structpb.Value{})

// Evaluator runs restricted CEL expressions. Only the CEL standard library
// plus string helpers is available; there is no I/O and every run is
// bounded by a cost limit. Compiled programs are cached by source text.
type Evaluator struct {
	env       *cel.Env
	logger    observability.Logger
	costLimit uint64

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorLogger sets the logger.
func WithEvaluatorLogger(logger observability.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithCostLimit overrides DefaultCostLimit.
func WithCostLimit(limit uint64) EvaluatorOption {
	return func(e *Evaluator) {
		if limit > 0 {
			e.costLimit = limit
		}
	}
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) (*Evaluator, error) {
	e := &Evaluator{
		logger:    observability.NopLogger(),
		costLimit: DefaultCostLimit,
		programs:  make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(e)
	}

	env, err := cel.NewEnv(
		cel.Variable(VarData, cel.DynType),
		cel.Variable(VarResults, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarParams, cel.MapType(cel.StringType, cel.StringType)),
		cel.CrossTypeNumericComparisons(true),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("create expression environment: %w", err)
	}
	e.env = env
	return e, nil
}

// Compile checks an expression and caches its program.
func (e *Evaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile: %w", ErrExpression, issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: program: %w", ErrExpression, err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// Eval runs expr against vars and returns the result as JSON-compatible
// Go values (maps, slices, float64, string, bool, nil).
func (e *Evaluator) Eval(ctx context.Context, expr string, vars map[string]any) (any, error) {
	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, activation(vars))
	if err != nil {
		e.logger.Debug("expression evaluation failed",
			observability.String("expression", expr),
			observability.Error(err),
		)
		return nil, fmt.Errorf("%w: eval: %w", ErrExpression, err)
	}

	native, err := out.ConvertToNative(structValueType)
	if err != nil {
		return nil, fmt.Errorf("%w: result of type %s is not JSON: %w", ErrExpression, out.Type().TypeName(), err)
	}
	return native.(*structpb.Value).AsInterface(), nil
}

// EvalBool runs expr and requires a boolean result.
func (e *Evaluator) EvalBool(ctx context.Context, expr string, vars map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.ContextEval(ctx, activation(vars))
	if err != nil {
		return false, fmt.Errorf("%w: eval: %w", ErrExpression, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expected bool, got %s", ErrExpression, out.Type().TypeName())
	}
	return b, nil
}

// activation fills unset variables with empty values so expressions that
// reference them see an empty map instead of failing.
func activation(vars map[string]any) map[string]any {
	act := make(map[string]any, 3)
	act[VarData] = nil
	act[VarResults] = map[string]any{}
	act[VarParams] = map[string]string{}
	for k, v := range vars {
		act[k] = v
	}
	return act
}
