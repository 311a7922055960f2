package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a dotted field path. Index is -1 for plain keys.
type segment struct {
	key   string
	index int
}

// parsePath splits a dotted path such as "items[0].id" into segments.
// "items[0]" yields two segments: the key and the index.
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, ErrInvalidFieldPath
	}

	var out []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidFieldPath, path)
		}

		key := part
		var indexes []int
		if open := strings.IndexByte(part, '['); open >= 0 {
			key = part[:open]
			rest := part[open:]
			for rest != "" {
				end := strings.IndexByte(rest, ']')
				if rest[0] != '[' || end < 0 {
					return nil, fmt.Errorf("%w: malformed index in %q", ErrInvalidFieldPath, path)
				}
				idx, err := strconv.Atoi(rest[1:end])
				if err != nil || idx < 0 {
					return nil, fmt.Errorf("%w: bad index %q in %q", ErrInvalidFieldPath, rest[1:end], path)
				}
				indexes = append(indexes, idx)
				rest = rest[end+1:]
			}
		}

		if key != "" {
			out = append(out, segment{key: key, index: -1})
		}
		for _, idx := range indexes {
			out = append(out, segment{index: idx})
		}
	}
	return out, nil
}

// Lookup returns the value at a dotted path inside decoded JSON data.
// The second result is false when any step of the path is missing.
func Lookup(data any, path string) (any, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}

	current := data
	for _, seg := range segs {
		next, ok := step(current, seg)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func step(current any, seg segment) (any, bool) {
	if seg.index >= 0 {
		arr, ok := current.([]any)
		if !ok || seg.index >= len(arr) {
			return nil, false
		}
		return arr[seg.index], true
	}
	m, ok := current.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[seg.key]
	return v, ok
}

// setPath writes value at a dotted path, creating objects and growing
// arrays along the way. Scalars in the way are replaced.
func setPath(root map[string]any, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if segs[0].index >= 0 {
		return fmt.Errorf("%w: %q starts with an index", ErrInvalidFieldPath, path)
	}

	_, err = assign(root, segs, value)
	return err
}

// assign sets value below container and returns the (possibly grown)
// container so callers can store replaced slices.
func assign(container any, segs []segment, value any) (any, error) {
	seg := segs[0]
	last := len(segs) == 1

	if seg.index >= 0 {
		arr, _ := container.([]any)
		for len(arr) <= seg.index {
			arr = append(arr, nil)
		}
		if last {
			arr[seg.index] = value
			return arr, nil
		}
		child, err := assign(childFor(arr[seg.index], segs[1]), segs[1:], value)
		if err != nil {
			return nil, err
		}
		arr[seg.index] = child
		return arr, nil
	}

	m, ok := container.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	if last {
		m[seg.key] = value
		return m, nil
	}
	child, err := assign(childFor(m[seg.key], segs[1]), segs[1:], value)
	if err != nil {
		return nil, err
	}
	m[seg.key] = child
	return m, nil
}

// childFor keeps an existing child when its shape fits the next segment.
func childFor(existing any, next segment) any {
	if next.index >= 0 {
		if arr, ok := existing.([]any); ok {
			return arr
		}
		return []any(nil)
	}
	if m, ok := existing.(map[string]any); ok {
		return m
	}
	return map[string]any(nil)
}

// deletePath removes the value at a dotted path. Missing paths are ignored.
// An indexed final segment removes the element and shifts the rest.
func deletePath(root map[string]any, path string) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}

	var parent any = root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := step(parent, seg)
		if !ok {
			return nil
		}
		parent = next
	}

	final := segs[len(segs)-1]
	if final.index < 0 {
		if m, ok := parent.(map[string]any); ok {
			delete(m, final.key)
		}
		return nil
	}

	// removing from a slice needs its owner to store the shortened slice
	if len(segs) < 2 {
		return nil
	}
	owner := segs[len(segs)-2]
	var grandparent any = root
	for _, seg := range segs[:len(segs)-2] {
		next, ok := step(grandparent, seg)
		if !ok {
			return nil
		}
		grandparent = next
	}
	arr, ok := parent.([]any)
	if !ok || final.index >= len(arr) {
		return nil
	}
	shortened := append(arr[:final.index:final.index], arr[final.index+1:]...)
	switch g := grandparent.(type) {
	case map[string]any:
		if owner.index < 0 {
			g[owner.key] = shortened
		}
	case []any:
		if owner.index >= 0 && owner.index < len(g) {
			g[owner.index] = shortened
		}
	}
	return nil
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
