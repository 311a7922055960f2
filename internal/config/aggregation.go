package config

import (
	"strings"
	"time"
)

// Aggregation execution types.
const (
	AggregationParallel      = "parallel"
	AggregationSequential    = "sequential"
	AggregationConditional   = "conditional"
	AggregationScatterGather = "scatter_gather"
)

// Gather strategies for scatter_gather aggregations.
const (
	GatherMerge  = "merge"
	GatherReduce = "reduce"
	GatherSelect = "select"
)

// Reduce operations.
const (
	ReduceSum     = "sum"
	ReduceAverage = "average"
)

// Select policies.
const (
	SelectFirstSuccess = "first_success"
)

// Condition operators.
const (
	OpEqual    = "=="
	OpNotEqual = "!="
	OpGreater  = ">"
	OpLess     = "<"
	OpIn       = "in"
	OpNotIn    = "not_in"
)

// DefaultAggregationTimeout bounds a whole aggregation when unset.
const DefaultAggregationTimeout = 60 * time.Second

// Aggregation combines several service calls into one gateway response.
type Aggregation struct {
	Name          string            `yaml:"name" json:"name"`
	Type          string            `yaml:"type" json:"type"`
	RequestPath   string            `yaml:"requestPath" json:"requestPath"`
	RequestMethod string            `yaml:"requestMethod,omitempty" json:"requestMethod,omitempty"`
	Calls         []AggregationCall `yaml:"calls,omitempty" json:"calls,omitempty"`
	Scatter       *ScatterConfig    `yaml:"scatter,omitempty" json:"scatter,omitempty"`
	Gather        *GatherConfig     `yaml:"gather,omitempty" json:"gather,omitempty"`

	MergeResponses         bool  `yaml:"mergeResponses,omitempty" json:"mergeResponses,omitempty"`
	ResponseTemplate       any   `yaml:"responseTemplate,omitempty" json:"responseTemplate,omitempty"`
	FailFast               bool  `yaml:"failFast,omitempty" json:"failFast,omitempty"`
	PartialResponseAllowed *bool `yaml:"partialResponseAllowed,omitempty" json:"partialResponseAllowed,omitempty"`

	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Active  *bool    `yaml:"active,omitempty" json:"active,omitempty"`
}

// AggregationCall is one backend call of an aggregation.
type AggregationCall struct {
	Name    string `yaml:"name" json:"name"`
	Service string `yaml:"service" json:"service"`

	// Path may reference inbound path parameters as {param} and fields of
	// earlier results as ${call.field}.
	Path      string            `yaml:"path" json:"path"`
	Method    string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	DependsOn []string          `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	Condition *Condition        `yaml:"condition,omitempty" json:"condition,omitempty"`
	FailFast  *bool             `yaml:"failFast,omitempty" json:"failFast,omitempty"`
	Timeout   Duration          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Condition is a single comparison between a referenced field and a literal.
// Field is either $call.path (a prior result) or @name (an inbound
// parameter). Expression, when set, is a CEL expression used instead.
type Condition struct {
	Field      string `yaml:"field,omitempty" json:"field,omitempty"`
	Operator   string `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value      any    `yaml:"value,omitempty" json:"value,omitempty"`
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// ScatterConfig broadcasts one request template to several services.
type ScatterConfig struct {
	Services []string `yaml:"services" json:"services"`
	Path     string   `yaml:"path" json:"path"`
	Method   string   `yaml:"method,omitempty" json:"method,omitempty"`
}

// GatherConfig combines scattered responses.
type GatherConfig struct {
	Method    string `yaml:"method" json:"method"`
	Field     string `yaml:"field,omitempty" json:"field,omitempty"`
	Operation string `yaml:"operation,omitempty" json:"operation,omitempty"`
	Selector  string `yaml:"selector,omitempty" json:"selector,omitempty"`
}

// IsActive reports whether the aggregation answers requests.
func (a *Aggregation) IsActive() bool {
	return a.Active == nil || *a.Active
}

// EffectiveMethod returns the upper-cased inbound method, * when unset.
func (a *Aggregation) EffectiveMethod() string {
	if a.RequestMethod == "" {
		return MethodAny
	}
	return strings.ToUpper(a.RequestMethod)
}

// AllowsPartial reports whether a 207 may be returned. Defaults to true.
func (a *Aggregation) AllowsPartial() bool {
	return a.PartialResponseAllowed == nil || *a.PartialResponseAllowed
}

// EffectiveTimeout bounds the whole aggregation.
func (a *Aggregation) EffectiveTimeout() time.Duration {
	return a.Timeout.OrDefault(DefaultAggregationTimeout)
}

// CallNames returns the names of all calls, in order.
func (a *Aggregation) CallNames() []string {
	names := make([]string, 0, len(a.Calls))
	for i := range a.Calls {
		names = append(names, a.Calls[i].Name)
	}
	return names
}

// EffectiveMethod returns the upper-cased method, GET when unset.
func (c *AggregationCall) EffectiveMethod() string {
	if c.Method == "" {
		return "GET"
	}
	return strings.ToUpper(c.Method)
}

// StopsOnFailure reports whether a failure of this call halts a sequential
// run. Defaults to true.
func (c *AggregationCall) StopsOnFailure() bool {
	return c.FailFast == nil || *c.FailFast
}
