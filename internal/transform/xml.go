package transform

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultRootElement wraps maps encoded to XML when no root is configured.
	DefaultRootElement = "root"

	// textKey holds the character data of an element that also has
	// attributes or children.
	textKey = "#text"
	// attrPrefix marks map keys encoded as XML attributes.
	attrPrefix = "@"
	// listItem names the elements of arrays nested directly in arrays.
	listItem = "item"
)

// xmlNode is a generic element used to decode arbitrary documents.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

// mapToXML encodes a map as an XML document under root. Keys are emitted
// in sorted order.
func mapToXML(data map[string]any, root string) (string, error) {
	if root == "" {
		root = DefaultRootElement
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := encodeElement(enc, root, data); err != nil {
		return "", fmt.Errorf("encode xml: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return "", fmt.Errorf("encode xml: %w", err)
	}
	return buf.String(), nil
}

func encodeElement(enc *xml.Encoder, name string, value any) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}

	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var children []string
		text := ""
		for _, k := range keys {
			switch {
			case strings.HasPrefix(k, attrPrefix):
				start.Attr = append(start.Attr, xml.Attr{
					Name:  xml.Name{Local: strings.TrimPrefix(k, attrPrefix)},
					Value: scalarText(v[k]),
				})
			case k == textKey:
				text = scalarText(v[k])
			default:
				children = append(children, k)
			}
		}

		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		if text != "" {
			if err := enc.EncodeToken(xml.CharData(text)); err != nil {
				return err
			}
		}
		for _, k := range children {
			if err := encodeChild(enc, k, v[k]); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())

	case []any:
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		for _, item := range v {
			if err := encodeElement(enc, listItem, item); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())

	default:
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		if v != nil {
			if err := enc.EncodeToken(xml.CharData(scalarText(v))); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())
	}
}

// encodeChild repeats the element once per entry for array values.
func encodeChild(enc *xml.Encoder, name string, value any) error {
	if arr, ok := value.([]any); ok {
		for _, item := range arr {
			if err := encodeElement(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	}
	return encodeElement(enc, name, value)
}

func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// xmlToMap decodes an XML document into a map keyed by the root element
// name, or into the root's content when unwrap is set.
func xmlToMap(doc []byte, unwrap bool) (map[string]any, error) {
	var root xmlNode
	if err := xml.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}

	content := nodeValue(&root)
	if !unwrap {
		return map[string]any{root.XMLName.Local: content}, nil
	}
	if m, ok := content.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{textKey: content}, nil
}

// nodeValue returns the text of a leaf element, or a map of its
// attributes, text and children. Repeated children become arrays.
func nodeValue(n *xmlNode) any {
	text := strings.TrimSpace(n.Content)
	if len(n.Attrs) == 0 && len(n.Children) == 0 {
		return text
	}

	out := make(map[string]any, len(n.Attrs)+len(n.Children)+1)
	for _, attr := range n.Attrs {
		out[attrPrefix+attr.Name.Local] = attr.Value
	}
	if text != "" {
		out[textKey] = text
	}
	repeated := repeatedNames(n)
	for i := range n.Children {
		child := &n.Children[i]
		name := child.XMLName.Local
		value := nodeValue(child)
		if _, ok := repeated[name]; ok {
			list, _ := out[name].([]any)
			out[name] = append(list, value)
			continue
		}
		out[name] = value
	}
	return out
}

// repeatedNames reports child names that occur more than once.
func repeatedNames(n *xmlNode) map[string]struct{} {
	counts := make(map[string]int, len(n.Children))
	for i := range n.Children {
		counts[n.Children[i].XMLName.Local]++
	}
	out := make(map[string]struct{})
	for name, c := range counts {
		if c > 1 {
			out[name] = struct{}{}
		}
	}
	return out
}
