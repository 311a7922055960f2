package transform

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapToXML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     map[string]any
		root     string
		expected string
	}{
		{
			name:     "default root",
			data:     map[string]any{"a": "1"},
			expected: "<root><a>1</a></root>",
		},
		{
			name: "attributes, arrays and numbers",
			data: map[string]any{"user": map[string]any{
				"@id":  "7",
				"name": "Ann",
				"tags": []any{"a", "b"},
				"age":  36.0,
			}},
			root:     "response",
			expected: `<response><user id="7"><age>36</age><name>Ann</name><tags>a</tags><tags>b</tags></user></response>`,
		},
		{
			name:     "text next to attributes",
			data:     map[string]any{"@lang": "en", "#text": "hello"},
			root:     "msg",
			expected: `<msg lang="en">hello</msg>`,
		},
		{
			name:     "escaping and null",
			data:     map[string]any{"q": "a<b & c", "empty": nil},
			expected: "<root><empty></empty><q>a&lt;b &amp; c</q></root>",
		},
		{
			name:     "nested arrays use item elements",
			data:     map[string]any{"grid": []any{[]any{1.0, 2.0}}},
			expected: "<root><grid><item>1</item><item>2</item></grid></root>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapToXML(tt.data, tt.root)
			require.NoError(t, err)
			assert.Equal(t, xml.Header+tt.expected, got)
		})
	}
}

func TestXMLToMap(t *testing.T) {
	t.Parallel()

	doc := `<?xml version="1.0"?>
<user id="7">
  <name>Ann</name>
  <tag>a</tag>
  <tag>b</tag>
  <address><city>Oslo</city></address>
</user>`

	wrapped, err := xmlToMap([]byte(doc), false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": map[string]any{
		"@id":     "7",
		"name":    "Ann",
		"tag":     []any{"a", "b"},
		"address": map[string]any{"city": "Oslo"},
	}}, wrapped)

	unwrapped, err := xmlToMap([]byte(doc), true)
	require.NoError(t, err)
	assert.Equal(t, "Oslo", unwrapped["address"].(map[string]any)["city"])

	leaf, err := xmlToMap([]byte(`<msg>hi</msg>`), true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"#text": "hi"}, leaf)

	_, err = xmlToMap([]byte(`<broken>`), false)
	assert.Error(t, err)
}
