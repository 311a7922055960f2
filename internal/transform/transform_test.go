package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	tr, err := New(WithLogger(observability.NopLogger()))
	require.NoError(t, err)
	return tr
}

func TestTransform_None(t *testing.T) {
	t.Parallel()

	data := map[string]any{"a": 1}
	for _, kind := range []string{"", "none", "NONE"} {
		out, err := Transform(data, kind, config.TransformConfig{})
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}
}

func TestTransform_JSON(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer(t)

	tests := []struct {
		name     string
		data     any
		cfg      config.TransformConfig
		expected any
	}{
		{
			name: "mapping projects onto targets",
			data: map[string]any{
				"user":  map[string]any{"id": 1, "name": "Ann"},
				"extra": true,
			},
			cfg: config.TransformConfig{Mapping: map[string]string{
				"user.id":   "id",
				"user.name": "profile.name",
			}},
			expected: map[string]any{"id": 1, "profile": map[string]any{"name": "Ann"}},
		},
		{
			name: "missing sources are skipped",
			data: map[string]any{"a": "x"},
			cfg: config.TransformConfig{Mapping: map[string]string{
				"a":       "b",
				"missing": "c",
			}},
			expected: map[string]any{"b": "x"},
		},
		{
			name: "array index in source path",
			data: map[string]any{"items": []any{
				map[string]any{"sku": "first"},
				map[string]any{"sku": "second"},
			}},
			cfg:      config.TransformConfig{Mapping: map[string]string{"items[1].sku": "sku"}},
			expected: map[string]any{"sku": "second"},
		},
		{
			name:     "template renders original data",
			data:     map[string]any{"name": "ada lovelace", "age": 36},
			cfg:      config.TransformConfig{Template: `{"greeting": "Hello {{title .name}}", "age": {{.age}}}`},
			expected: map[string]any{"greeting": "Hello Ada Lovelace", "age": float64(36)},
		},
		{
			name: "add and remove fields",
			data: map[string]any{"id": "7", "password": "secret", "nested": map[string]any{"drop": 1, "keep": 2}},
			cfg: config.TransformConfig{
				AddFields:    map[string]any{"meta.source": "gateway"},
				RemoveFields: []string{"password", "nested.drop"},
			},
			expected: map[string]any{
				"id":     "7",
				"nested": map[string]any{"keep": 2},
				"meta":   map[string]any{"source": "gateway"},
			},
		},
		{
			name:     "raw JSON text is decoded",
			data:     `{"a": {"b": "c"}}`,
			cfg:      config.TransformConfig{Mapping: map[string]string{"a.b": "value"}},
			expected: map[string]any{"value": "c"},
		},
		{
			name:     "no config is identity",
			data:     []any{"x", "y"},
			expected: []any{"x", "y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := tr.Transform(context.Background(), tt.data, config.TransformJSON, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestTransform_JSONDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	data := map[string]any{"keep": map[string]any{"x": 1}, "drop": true}
	_, err := Transform(data, config.TransformJSON, config.TransformConfig{
		AddFields:    map[string]any{"keep.y": 2},
		RemoveFields: []string{"drop"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"keep": map[string]any{"x": 1}, "drop": true}, data)
}

func TestTransform_Errors(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer(t)

	tests := []struct {
		name   string
		data   any
		kind   string
		cfg    config.TransformConfig
		target error
	}{
		{
			name:   "template output is not JSON",
			data:   map[string]any{"a": 1},
			kind:   config.TransformJSON,
			cfg:    config.TransformConfig{Template: "plain {{.a}}"},
			target: ErrTemplateExecution,
		},
		{
			name:   "template does not parse",
			data:   map[string]any{},
			kind:   config.TransformJSON,
			cfg:    config.TransformConfig{Template: "{{.a"},
			target: ErrTemplateExecution,
		},
		{
			name:   "add field on array",
			data:   []any{1},
			kind:   config.TransformJSON,
			cfg:    config.TransformConfig{AddFields: map[string]any{"a": 1}},
			target: ErrInvalidDataType,
		},
		{
			name:   "text that is not JSON",
			data:   "not json",
			kind:   config.TransformJSON,
			target: ErrInvalidDataType,
		},
		{
			name:   "xml of a number",
			data:   42.0,
			kind:   config.TransformXML,
			target: ErrInvalidDataType,
		},
		{
			name:   "custom without expression",
			data:   map[string]any{},
			kind:   config.TransformCustom,
			target: ErrExpression,
		},
		{
			name:   "unknown kind",
			data:   map[string]any{},
			kind:   "yaml",
			target: ErrUnknownKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tr.Transform(context.Background(), tt.data, tt.kind, tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, util.ErrTransformation)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, 500, util.StatusCode(err))
		})
	}
}

func TestTransform_XMLRoundTrip(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer(t)
	data := map[string]any{"user": map[string]any{"name": "Ann", "role": "admin"}}

	doc, err := tr.Transform(context.Background(), data, config.TransformXML, config.TransformConfig{RootElement: "response"})
	require.NoError(t, err)
	assert.Equal(t,
		"<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<response><user><name>Ann</name><role>admin</role></user></response>",
		doc)

	back, err := tr.Transform(context.Background(), doc, config.TransformXML, config.TransformConfig{UnwrapRoot: true})
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestTransform_Custom(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer(t)

	tests := []struct {
		name       string
		data       any
		expression string
		expected   any
	}{
		{
			name:       "arithmetic on fields",
			data:       map[string]any{"price": 10.0, "qty": 3.0},
			expression: `{"total": data.price * data.qty}`,
			expected:   map[string]any{"total": float64(30)},
		},
		{
			name:       "string helpers",
			data:       map[string]any{"name": "ann"},
			expression: `data.name.upperAscii()`,
			expected:   "ANN",
		},
		{
			name:       "filter a list",
			data:       map[string]any{"items": []any{1.0, 5.0, 9.0}},
			expression: `data.items.filter(x, x > 4)`,
			expected:   []any{float64(5), float64(9)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := tr.Transform(context.Background(), tt.data, config.TransformCustom,
				config.TransformConfig{Expression: tt.expression})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestTransformBody(t *testing.T) {
	t.Parallel()

	tr := newTestTransformer(t)
	ctx := context.Background()

	body, ct, err := tr.TransformBody(ctx, []byte(`{"a":1}`), "application/json", config.TransformNone, config.TransformConfig{})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))
	assert.Equal(t, "application/json", ct)

	body, ct, err = tr.TransformBody(ctx, []byte(`{"user":{"id":7}}`), "application/json; charset=utf-8",
		config.TransformJSON, config.TransformConfig{Mapping: map[string]string{"user.id": "id"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(body))
	assert.Equal(t, ContentTypeJSON, ct)

	body, ct, err = tr.TransformBody(ctx, []byte(`{"id":7}`), "application/json",
		config.TransformXML, config.TransformConfig{RootElement: "order"})
	require.NoError(t, err)
	assert.Contains(t, string(body), "<order><id>7</id></order>")
	assert.Equal(t, ContentTypeXML, ct)

	body, ct, err = tr.TransformBody(ctx, []byte(`<order><id>7</id></order>`), "application/xml",
		config.TransformXML, config.TransformConfig{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"order":{"id":"7"}}`, string(body))
	assert.Equal(t, ContentTypeJSON, ct)

	_, _, err = tr.TransformBody(ctx, []byte(`oops`), "text/plain", config.TransformJSON, config.TransformConfig{})
	assert.ErrorIs(t, err, util.ErrTransformation)
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		contentType string
		expected    any
	}{
		{name: "empty", body: "  ", expected: nil},
		{name: "json by content type", body: `{"a":1}`, contentType: "application/json", expected: map[string]any{"a": float64(1)}},
		{name: "json by sniffing", body: `[1]`, expected: []any{float64(1)}},
		{name: "problem json", body: `{"x":true}`, contentType: "application/problem+json", expected: map[string]any{"x": true}},
		{name: "xml stays text", body: `<a/>`, contentType: "application/xml", expected: "<a/>"},
		{name: "broken json stays text", body: `{oops`, contentType: "application/json", expected: "{oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, DecodeBody([]byte(tt.body), tt.contentType))
		})
	}
}

func TestTransform_TemplateCacheBound(t *testing.T) {
	t.Parallel()

	tr, err := New(WithTemplateCacheSize(1))
	require.NoError(t, err)

	for _, src := range []string{`{"a": {{.a}}}`, `{"b": {{.a}}}`} {
		out, err := tr.Transform(context.Background(), map[string]any{"a": 1}, config.TransformJSON,
			config.TransformConfig{Template: src})
		require.NoError(t, err)
		assert.NotNil(t, out)
	}
	assert.Len(t, tr.templates.templates, 1)
}
