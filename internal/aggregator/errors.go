package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/svcgw/internal/transform"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

var (
	// ErrUnresolvedReference is returned when a path or condition refers to
	// a parameter or call result that does not exist.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrUnknownOperator is returned for a condition operator outside
	// ==, !=, >, <, in and not_in.
	ErrUnknownOperator = errors.New("unknown condition operator")
)

// dependencyError marks a call that was not sent because a call it
// depends on has no successful result.
type dependencyError struct {
	call         string
	dependencies []string
}

func (e *dependencyError) Error() string {
	return fmt.Sprintf("call %s not sent: dependency %s failed", e.call, strings.Join(e.dependencies, ", "))
}

// statusError is a backend answer with a client or server error status.
type statusError struct {
	service string
	status  int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("service %s answered %d", e.service, e.status)
}

func newConfigError(aggregation, message string) error {
	return util.NewAggregationError(aggregation, message, util.ErrConfigInvalid)
}

// describe returns the kind and client-safe message of a call error.
func describe(err error) (kind, message string) {
	var (
		dep *dependencyError
		se  *statusError
		he  util.HTTPError
	)
	switch {
	case errors.As(err, &dep):
		return "dependency failed", dep.Error()
	case errors.As(err, &se):
		return "backend error", se.Error()
	case errors.Is(err, util.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout", "call timed out"
	case errors.Is(err, context.Canceled):
		return "canceled", "call was cancelled"
	case errors.Is(err, ErrUnresolvedReference):
		return "unresolved reference", err.Error()
	case errors.Is(err, ErrUnknownOperator), errors.Is(err, transform.ErrExpression):
		return "condition error", "condition could not be evaluated"
	case errors.As(err, &he):
		return he.Kind(), he.PublicMessage()
	default:
		return "call failed", "call failed"
	}
}
