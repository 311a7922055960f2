package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path      string
		expected  []segment
		expectErr bool
	}{
		{path: "name", expected: []segment{{key: "name", index: -1}}},
		{path: "user.name", expected: []segment{{key: "user", index: -1}, {key: "name", index: -1}}},
		{path: "items[0].id", expected: []segment{{key: "items", index: -1}, {index: 0}, {key: "id", index: -1}}},
		{path: "grid[1][2]", expected: []segment{{key: "grid", index: -1}, {index: 1}, {index: 2}}},
		{path: "", expectErr: true},
		{path: "a..b", expectErr: true},
		{path: "a[x]", expectErr: true},
		{path: "a[1", expectErr: true},
		{path: "a[-1]", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, err := parsePath(tt.path)
			if tt.expectErr {
				assert.ErrorIs(t, err, ErrInvalidFieldPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"user": map[string]any{"name": "Ann", "tags": []any{"a", "b"}},
		"list": []any{map[string]any{"id": 1}},
	}

	tests := []struct {
		path  string
		value any
		found bool
	}{
		{path: "user.name", value: "Ann", found: true},
		{path: "user.tags[1]", value: "b", found: true},
		{path: "list[0].id", value: 1, found: true},
		{path: "user.tags[5]", found: false},
		{path: "user.name.first", found: false},
		{path: "nope", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, ok := Lookup(data, tt.path)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.value, got)
		})
	}

	top, ok := Lookup([]any{"x"}, "[0]")
	assert.True(t, ok)
	assert.Equal(t, "x", top)
}

func TestSetPath(t *testing.T) {
	t.Parallel()

	root := map[string]any{"scalar": 1}
	require.NoError(t, setPath(root, "a.b.c", "deep"))
	require.NoError(t, setPath(root, "list[2]", "third"))
	require.NoError(t, setPath(root, "rows[0].id", 7))
	require.NoError(t, setPath(root, "scalar.child", true))

	assert.Equal(t, map[string]any{
		"a":      map[string]any{"b": map[string]any{"c": "deep"}},
		"list":   []any{nil, nil, "third"},
		"rows":   []any{map[string]any{"id": 7}},
		"scalar": map[string]any{"child": true},
	}, root)

	assert.ErrorIs(t, setPath(root, "[0]", 1), ErrInvalidFieldPath)
}

func TestDeletePath(t *testing.T) {
	t.Parallel()

	root := map[string]any{
		"a":     map[string]any{"b": 1, "c": 2},
		"items": []any{"x", "y", "z"},
		"keep":  true,
	}

	require.NoError(t, deletePath(root, "a.b"))
	require.NoError(t, deletePath(root, "items[1]"))
	require.NoError(t, deletePath(root, "missing.path"))
	require.NoError(t, deletePath(root, "items[9]"))

	assert.Equal(t, map[string]any{
		"a":     map[string]any{"c": 2},
		"items": []any{"x", "z"},
		"keep":  true,
	}, root)
}
