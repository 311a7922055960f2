package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const defaultMaxTemplates = 1000

// templateCache holds parsed templates keyed by their source text.
type templateCache struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
	funcs     template.FuncMap
	max       int
}

func newTemplateCache(max int) *templateCache {
	if max <= 0 {
		max = defaultMaxTemplates
	}
	return &templateCache{
		templates: make(map[string]*template.Template),
		funcs:     templateFuncs(),
		max:       max,
	}
}

func (c *templateCache) get(src string) (*template.Template, error) {
	c.mu.RLock()
	tmpl, ok := c.templates[src]
	c.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := template.New("transform").Funcs(c.funcs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.templates) < c.max {
		c.templates[src] = tmpl
	}
	c.mu.Unlock()
	return tmpl, nil
}

// render executes src with data as dot. The output must be a JSON document.
func (c *templateCache) render(src string, data any) (any, error) {
	tmpl, err := c.get(src)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrTemplateExecution, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateExecution, err)
	}

	var out any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: output is not JSON: %w", ErrTemplateExecution, err)
	}
	return out, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": func(s string) string {
			// a Caser keeps state between calls
			return cases.Title(language.English).String(s)
		},
		"trim":  strings.TrimSpace,
		"join":  joinAny,
		"default": func(def, v any) any {
			if v == nil || v == "" {
				return def
			}
			return v
		},
		"get": func(data any, path string) any {
			v, _ := Lookup(data, path)
			return v
		},
	}
}

func joinAny(sep string, items any) string {
	arr, ok := items.([]any)
	if !ok {
		return fmt.Sprint(items)
	}
	parts := make([]string, len(arr))
	for i, item := range arr {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, sep)
}
