package config

import "strings"

// Transformer kinds.
const (
	TransformNone   = "none"
	TransformJSON   = "json"
	TransformXML    = "xml"
	TransformCustom = "custom"
)

// MethodAny matches every HTTP method.
const MethodAny = "*"

// Route maps an inbound (method, path pattern) to a target service.
type Route struct {
	ID          string `yaml:"id,omitempty" json:"id,omitempty"`
	PathPattern string `yaml:"pathPattern" json:"pathPattern"`
	Method      string `yaml:"method,omitempty" json:"method,omitempty"`
	Service     string `yaml:"service" json:"service"`

	// ServicePath is an optional template for the backend path. Its {name}
	// placeholders are filled from the inbound path parameters.
	ServicePath string `yaml:"servicePath,omitempty" json:"servicePath,omitempty"`
	StripPrefix bool   `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
	AppendSlash bool   `yaml:"appendSlash,omitempty" json:"appendSlash,omitempty"`

	TransformRequest  string          `yaml:"transformRequest,omitempty" json:"transformRequest,omitempty"`
	TransformResponse string          `yaml:"transformResponse,omitempty" json:"transformResponse,omitempty"`
	TransformConfig   TransformConfig `yaml:"transformConfig,omitempty" json:"transformConfig,omitempty"`

	AddRequestHeaders     map[string]string `yaml:"addRequestHeaders,omitempty" json:"addRequestHeaders,omitempty"`
	RemoveRequestHeaders  []string          `yaml:"removeRequestHeaders,omitempty" json:"removeRequestHeaders,omitempty"`
	AddResponseHeaders    map[string]string `yaml:"addResponseHeaders,omitempty" json:"addResponseHeaders,omitempty"`
	RemoveResponseHeaders []string          `yaml:"removeResponseHeaders,omitempty" json:"removeResponseHeaders,omitempty"`

	AuthRequired bool  `yaml:"authRequired,omitempty" json:"authRequired,omitempty"`
	Priority     int   `yaml:"priority,omitempty" json:"priority,omitempty"`
	Active       *bool `yaml:"active,omitempty" json:"active,omitempty"`
}

// TransformConfig parameterizes the request and response transformers.
type TransformConfig struct {
	// json: dotted source path -> dotted target path.
	Mapping map[string]string `yaml:"mapping,omitempty" json:"mapping,omitempty"`
	// json: text/template rendered with the payload as dot.
	Template     string         `yaml:"template,omitempty" json:"template,omitempty"`
	AddFields    map[string]any `yaml:"addFields,omitempty" json:"addFields,omitempty"`
	RemoveFields []string       `yaml:"removeFields,omitempty" json:"removeFields,omitempty"`

	// xml
	RootElement string `yaml:"rootElement,omitempty" json:"rootElement,omitempty"`
	UnwrapRoot  bool   `yaml:"unwrapRoot,omitempty" json:"unwrapRoot,omitempty"`

	// custom: CEL expression evaluated with the payload bound to "data".
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// IsActive reports whether the route takes part in matching.
func (r *Route) IsActive() bool {
	return r.Active == nil || *r.Active
}

// EffectiveMethod returns the upper-cased method, * when unset.
func (r *Route) EffectiveMethod() string {
	if r.Method == "" {
		return MethodAny
	}
	return strings.ToUpper(r.Method)
}

// Key identifies the route for caching, metrics and the X-Gateway-Route
// header.
func (r *Route) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.EffectiveMethod() + " " + r.PathPattern
}

// LiteralPrefix returns the pattern up to its first placeholder, without
// a trailing slash. It is the part removed by StripPrefix.
func (r *Route) LiteralPrefix() string {
	prefix := r.PathPattern
	if i := strings.Index(prefix, "{"); i >= 0 {
		prefix = prefix[:i]
	}
	return strings.TrimSuffix(prefix, "/")
}

// EffectiveKind normalizes an empty transformer kind to none.
func EffectiveKind(kind string) string {
	if kind == "" {
		return TransformNone
	}
	return strings.ToLower(kind)
}
