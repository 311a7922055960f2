package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/vyrodovalexey/svcgw/internal/util"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Is makes every validation failure match util.ErrConfigInvalid.
func (e ValidationErrors) Is(target error) bool {
	return target == util.ErrConfigInvalid
}

var placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
	"HEAD": true, "OPTIONS": true, MethodAny: true,
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	return NewValidator().Validate(cfg)
}

// Validate checks cfg and returns ValidationErrors when anything is wrong.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&cfg.Server)
	v.validateGlobal(cfg)
	v.validateRecords(cfg.Services, cfg.Routes, cfg.Aggregations)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// ValidateRecords checks services, routes and aggregations on their own.
// Repositories that load records from storage use it.
func ValidateRecords(services []Service, routes []Route, aggregations []Aggregation) error {
	v := NewValidator()
	v.validateRecords(services, routes, aggregations)
	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Port < 1 || s.Port > 65535 {
		v.addError("server.port", fmt.Sprintf("port %d out of range", s.Port))
	}
	if s.Prefix != "" && !strings.HasPrefix(s.Prefix, "/") {
		v.addError("server.prefix", "must start with /")
	}
}

func (v *Validator) validateGlobal(cfg *GatewayConfig) {
	if !isKnownStrategy(cfg.LoadBalancer.Strategy) {
		v.addError("loadBalancer.strategy", fmt.Sprintf("unknown strategy %q", cfg.LoadBalancer.Strategy))
	}
	switch cfg.Repository.Driver {
	case RepositoryMemory, RepositorySQLite, RepositoryMySQL:
	default:
		v.addError("repository.driver", fmt.Sprintf("unknown driver %q", cfg.Repository.Driver))
	}
	if cfg.Repository.Driver != RepositoryMemory && cfg.Repository.DSN == "" {
		v.addError("repository.dsn", "required for SQL repositories")
	}
	if cfg.Observability.Tracing.SamplingRate < 0 || cfg.Observability.Tracing.SamplingRate > 1 {
		v.addError("observability.tracing.samplingRate", "must be between 0 and 1")
	}
}

func (v *Validator) validateRecords(services []Service, routes []Route, aggregations []Aggregation) {
	known := make(map[string]bool, len(services))
	for i := range services {
		path := fmt.Sprintf("services[%d]", i)
		name := services[i].Name
		if known[name] {
			v.addError(path+".name", fmt.Sprintf("duplicate service %q", name))
		}
		known[name] = true
		v.validateService(path, &services[i])
	}

	seen := make(map[string]int)
	for i := range routes {
		path := fmt.Sprintf("routes[%d]", i)
		r := &routes[i]
		v.validateRoute(path, r, known)
		if !r.IsActive() {
			continue
		}
		key := r.EffectiveMethod() + " " + r.PathPattern
		if prev, dup := seen[key]; dup {
			v.addError(path, fmt.Sprintf("pattern and method %q already used by routes[%d]", key, prev))
			continue
		}
		seen[key] = i
	}

	names := make(map[string]bool, len(aggregations))
	for i := range aggregations {
		path := fmt.Sprintf("aggregations[%d]", i)
		if names[aggregations[i].Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate aggregation %q", aggregations[i].Name))
		}
		names[aggregations[i].Name] = true
		v.validateAggregation(path, &aggregations[i], known)
	}
}

func (v *Validator) validateService(path string, s *Service) {
	if s.Name == "" {
		v.addError(path+".name", "name is required")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		v.addError(path+".baseUrl", fmt.Sprintf("invalid base URL %q", s.BaseURL))
	}
	if s.Weight != nil && *s.Weight < 0 {
		v.addError(path+".weight", "must not be negative")
	}
	if s.MaxRetries != nil && *s.MaxRetries < 0 {
		v.addError(path+".maxRetries", "must not be negative")
	}
	if s.LoadBalancer != "" && !isKnownStrategy(s.LoadBalancer) {
		v.addError(path+".loadBalancer", fmt.Sprintf("unknown strategy %q", s.LoadBalancer))
	}
	switch s.HealthCheck.EffectiveType() {
	case HealthCheckHTTP, HealthCheckTCP, HealthCheckCustom:
	default:
		v.addError(path+".healthCheck.type", fmt.Sprintf("unknown check type %q", s.HealthCheck.Type))
	}
	if s.CircuitBreaker.Threshold < 0 {
		v.addError(path+".circuitBreaker.threshold", "must not be negative")
	}
	if s.Auth.Required && s.Auth.APIKey == "" {
		v.addError(path+".auth.apiKey", "required when auth.required is set")
	}
	for j := range s.Instances {
		inst := &s.Instances[j]
		ipath := fmt.Sprintf("%s.instances[%d]", path, j)
		if inst.Host == "" {
			v.addError(ipath+".host", "host is required")
		}
		if inst.Port < 1 || inst.Port > 65535 {
			v.addError(ipath+".port", fmt.Sprintf("port %d out of range", inst.Port))
		}
		if inst.Weight != nil && *inst.Weight < 0 {
			v.addError(ipath+".weight", "must not be negative")
		}
	}
}

func (v *Validator) validateRoute(path string, r *Route, services map[string]bool) {
	v.validatePattern(path+".pathPattern", r.PathPattern)
	if !knownMethods[r.EffectiveMethod()] {
		v.addError(path+".method", fmt.Sprintf("unknown method %q", r.Method))
	}
	if r.Service == "" {
		v.addError(path+".service", "service is required")
	} else if !services[r.Service] && len(services) > 0 {
		v.addError(path+".service", fmt.Sprintf("unknown service %q", r.Service))
	}
	if r.ServicePath != "" {
		params := patternParams(r.PathPattern)
		for _, m := range placeholderPattern.FindAllStringSubmatch(r.ServicePath, -1) {
			if !params[m[1]] {
				v.addError(path+".servicePath", fmt.Sprintf("placeholder {%s} not in path pattern", m[1]))
			}
		}
	}
	v.validateTransform(path+".transformRequest", r.TransformRequest, &r.TransformConfig)
	v.validateTransform(path+".transformResponse", r.TransformResponse, &r.TransformConfig)
}

func (v *Validator) validatePattern(path, pattern string) {
	if !strings.HasPrefix(pattern, "/") {
		v.addError(path, "must start with /")
		return
	}
	if strings.Count(pattern, "{") != strings.Count(pattern, "}") {
		v.addError(path, "unbalanced placeholder braces")
		return
	}
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(pattern, -1) {
		if !identPattern.MatchString(m[1]) {
			v.addError(path, fmt.Sprintf("invalid placeholder name %q", m[1]))
		}
		if seen[m[1]] {
			v.addError(path, fmt.Sprintf("duplicate placeholder %q", m[1]))
		}
		seen[m[1]] = true
	}
}

func (v *Validator) validateTransform(path, kind string, tc *TransformConfig) {
	switch EffectiveKind(kind) {
	case TransformNone, TransformJSON, TransformXML:
	case TransformCustom:
		if tc.Expression == "" {
			v.addError(path, "custom transform requires transformConfig.expression")
		}
	default:
		v.addError(path, fmt.Sprintf("unknown transform %q", kind))
	}
}

func (v *Validator) validateAggregation(path string, a *Aggregation, services map[string]bool) {
	if a.Name == "" {
		v.addError(path+".name", "name is required")
	}
	v.validatePattern(path+".requestPath", a.RequestPath)
	if !knownMethods[a.EffectiveMethod()] {
		v.addError(path+".requestMethod", fmt.Sprintf("unknown method %q", a.RequestMethod))
	}

	switch a.Type {
	case AggregationParallel, AggregationSequential, AggregationConditional:
		if len(a.Calls) == 0 {
			v.addError(path+".calls", "at least one call is required")
		}
	case AggregationScatterGather:
		v.validateScatterGather(path, a, services)
	default:
		v.addError(path+".type", fmt.Sprintf("unknown aggregation type %q", a.Type))
	}

	calls := make(map[string]bool, len(a.Calls))
	for i := range a.Calls {
		c := &a.Calls[i]
		cpath := fmt.Sprintf("%s.calls[%d]", path, i)
		if c.Name == "" {
			v.addError(cpath+".name", "name is required")
		} else if calls[c.Name] {
			v.addError(cpath+".name", fmt.Sprintf("duplicate call %q", c.Name))
		}
		calls[c.Name] = true
		if c.Service == "" {
			v.addError(cpath+".service", "service is required")
		} else if len(services) > 0 && !services[c.Service] {
			v.addError(cpath+".service", fmt.Sprintf("unknown service %q", c.Service))
		}
		if c.Condition != nil {
			v.validateCondition(cpath+".condition", c.Condition)
		}
	}

	for i := range a.Calls {
		c := &a.Calls[i]
		for _, dep := range c.DependsOn {
			if dep == c.Name || !calls[dep] {
				v.addError(fmt.Sprintf("%s.calls[%d].dependsOn", path, i),
					fmt.Sprintf("%q does not name another call of %s", dep, a.Name))
			}
		}
	}
}

func (v *Validator) validateScatterGather(path string, a *Aggregation, services map[string]bool) {
	if a.Scatter == nil && len(a.Calls) == 0 {
		v.addError(path+".scatter", "scatter or calls is required")
	}
	if a.Scatter != nil {
		if len(a.Scatter.Services) == 0 {
			v.addError(path+".scatter.services", "at least one service is required")
		}
		for _, s := range a.Scatter.Services {
			if len(services) > 0 && !services[s] {
				v.addError(path+".scatter.services", fmt.Sprintf("unknown service %q", s))
			}
		}
	}
	if a.Gather == nil {
		return
	}
	switch a.Gather.Method {
	case GatherMerge, "":
	case GatherReduce:
		if a.Gather.Field == "" {
			v.addError(path+".gather.field", "required for reduce")
		}
		if a.Gather.Operation != ReduceSum && a.Gather.Operation != ReduceAverage {
			v.addError(path+".gather.operation", fmt.Sprintf("unknown reduce operation %q", a.Gather.Operation))
		}
	case GatherSelect:
		if a.Gather.Selector != "" && a.Gather.Selector != SelectFirstSuccess {
			v.addError(path+".gather.selector", fmt.Sprintf("unknown selector %q", a.Gather.Selector))
		}
	default:
		v.addError(path+".gather.method", fmt.Sprintf("unknown gather method %q", a.Gather.Method))
	}
}

func (v *Validator) validateCondition(path string, c *Condition) {
	if c.Expression != "" {
		return
	}
	if !strings.HasPrefix(c.Field, "$") && !strings.HasPrefix(c.Field, "@") {
		v.addError(path+".field", fmt.Sprintf("field %q must start with $ or @", c.Field))
	}
	switch c.Operator {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpIn, OpNotIn:
	default:
		v.addError(path+".operator", fmt.Sprintf("unknown operator %q", c.Operator))
	}
}

func patternParams(pattern string) map[string]bool {
	params := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(pattern, -1) {
		params[m[1]] = true
	}
	return params
}

func isKnownStrategy(s string) bool {
	switch s {
	case StrategyRoundRobin, StrategyRandom, StrategyWeightedRandom, StrategyLeastConnections, StrategyIPHash:
		return true
	}
	return false
}
