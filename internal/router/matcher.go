package router

import (
	"fmt"
	"regexp"
	"strings"
)

// ParameterMatcher matches paths against a pattern made of literal text
// and {name} placeholders. A placeholder matches one non-empty path
// segment, or the part of a segment between its literal neighbors.
type ParameterMatcher struct {
	pattern string
	names   []string
	regex   *regexp.Regexp
}

// NewParameterMatcher compiles pattern into an anchored regular
// expression with one named group per placeholder.
func NewParameterMatcher(pattern string) (*ParameterMatcher, error) {
	pieces, err := splitPattern(pattern)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("^")
	var names []string
	for _, p := range pieces {
		if !p.param {
			b.WriteString(regexp.QuoteMeta(p.value))
			continue
		}
		b.WriteString("(?P<")
		b.WriteString(p.value)
		b.WriteString(">[^/]+)")
		names = append(names, p.value)
	}
	b.WriteString("$")

	regex, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return &ParameterMatcher{pattern: pattern, names: names, regex: regex}, nil
}

// Match checks if the path matches the pattern and extracts parameters.
func (m *ParameterMatcher) Match(path string) (matched bool, params map[string]string) {
	matches := m.regex.FindStringSubmatch(path)
	if matches == nil {
		return false, nil
	}

	params = make(map[string]string, len(m.names))
	for i, name := range m.regex.SubexpNames() {
		if i > 0 && name != "" {
			params[name] = matches[i]
		}
	}
	return true, params
}

// Pattern returns the pattern.
func (m *ParameterMatcher) Pattern() string {
	return m.pattern
}

// Names returns the placeholder names in pattern order.
func (m *ParameterMatcher) Names() []string {
	return m.names
}

// Expand substitutes {name} placeholders of template with params.
func Expand(template string, params map[string]string) (string, error) {
	pieces, err := splitPattern(template)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, p := range pieces {
		if !p.param {
			b.WriteString(p.value)
			continue
		}
		v, ok := params[p.value]
		if !ok {
			return "", fmt.Errorf("no value for placeholder {%s} in %q", p.value, template)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

type piece struct {
	value string
	param bool
}

func splitPattern(pattern string) ([]piece, error) {
	var pieces []piece
	rest := pattern
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			pieces = append(pieces, piece{value: rest})
			break
		}
		if open > 0 {
			pieces = append(pieces, piece{value: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("unclosed placeholder in %q", pattern)
		}
		name := rest[open+1 : open+end]
		if name == "" {
			return nil, fmt.Errorf("empty placeholder in %q", pattern)
		}
		pieces = append(pieces, piece{value: name, param: true})
		rest = rest[open+end+1:]
	}
	return pieces, nil
}

// HasPathParameters reports whether path contains placeholders.
func HasPathParameters(path string) bool {
	return strings.Contains(path, "{") && strings.Contains(path, "}")
}
