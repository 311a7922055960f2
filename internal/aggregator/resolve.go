package aggregator

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/svcgw/internal/transform"
)

var (
	// ${call.field} back-references to earlier results.
	refPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

	// {name} inbound parameters.
	paramPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// resolvePath fills the back-references and parameters of a call path
// template. Substituted values are path-escaped.
func (r *run) resolvePath(template string) (string, error) {
	var firstErr error
	fail := func(ref string) {
		if firstErr == nil {
			firstErr = fmt.Errorf("%w: %s in %q", ErrUnresolvedReference, ref, template)
		}
	}

	out := refPattern.ReplaceAllStringFunc(template, func(m string) string {
		ref := m[2 : len(m)-1]
		v, ok := r.reference(ref)
		if !ok {
			fail(m)
			return m
		}
		return url.PathEscape(formatValue(v))
	})
	if firstErr != nil {
		return "", firstErr
	}

	out = paramPattern.ReplaceAllStringFunc(out, func(m string) string {
		v, ok := r.params[m[1:len(m)-1]]
		if !ok {
			fail(m)
			return m
		}
		return url.PathEscape(v)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// reference resolves "call.path" against the successful result of call.
// A bare call name yields the whole result.
func (r *run) reference(ref string) (any, bool) {
	name, field, _ := strings.Cut(ref, ".")
	o, ok := r.get(name)
	if !ok || o.state != outcomeOK {
		return nil, false
	}
	if field == "" {
		return o.data, true
	}
	return transform.Lookup(o.data, field)
}

// formatValue renders a decoded JSON value for use in a URL path.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// assemble builds the response body. With merge_responses and a response
// template the template is rendered, otherwise every call's entry is
// returned by name.
func (r *run) assemble() any {
	if r.cfg.MergeResponses && r.cfg.ResponseTemplate != nil {
		return renderTemplate(r.cfg.ResponseTemplate, r.successes())
	}
	return r.entries()
}

// renderTemplate walks tmpl. Strings starting with $ extract a field of a
// call result ("$users.profile.name"); maps and lists recurse; anything
// else is a literal. Missing references render as null.
func renderTemplate(tmpl any, results map[string]any) any {
	switch t := tmpl.(type) {
	case string:
		if len(t) < 2 || t[0] != '$' {
			return t
		}
		name, field, _ := strings.Cut(t[1:], ".")
		data, ok := results[name]
		if !ok {
			return nil
		}
		if field == "" {
			return data
		}
		v, _ := transform.Lookup(data, field)
		return v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = renderTemplate(v, results)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = renderTemplate(v, results)
		}
		return out
	default:
		return t
	}
}
