package config

import (
	"regexp"
	"strconv"
	"strings"
)

var keySegment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// KeyPath addresses one value in the raw config tree, e.g.
// "meshtastic.accounts.roof.bridgeUrl". Numeric segments index lists, so
// "agents.bindings.0.peer" reaches into the first binding.
type KeyPath []string

// ParseKeyPath splits a dotted key. Segments must be non-empty and contain
// only letters, digits, '_' or '-'.
func ParseKeyPath(raw string) (KeyPath, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ConfigError{Message: "empty key"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if !keySegment.MatchString(p) {
			return nil, &ConfigError{Path: raw, Message: "invalid key segment " + strconv.Quote(p)}
		}
	}
	return KeyPath(parts), nil
}

func (k KeyPath) String() string { return strings.Join(k, ".") }

// Get returns the value at k, or false when any step is missing.
func (k KeyPath) Get(root map[string]any) (any, bool) {
	var cur any = root
	for _, seg := range k {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Set stores v at k. Missing maps along the way are created and scalars in
// the way are replaced by maps. A list is only indexed, never grown.
func (k KeyPath) Set(root map[string]any, v any) error {
	if len(k) == 0 {
		return &ConfigError{Message: "empty key"}
	}
	parent, err := k[:len(k)-1].container(root)
	if err != nil {
		return err
	}
	return assign(parent, k[len(k)-1], v, k)
}

// Unset removes the value at k and reports whether it existed. List
// elements are removed and the rest shift down.
func (k KeyPath) Unset(root map[string]any) bool {
	if len(k) == 0 {
		return false
	}
	parentKey := k[:len(k)-1]
	parent, ok := parentKey.Get(root)
	if !ok {
		return false
	}
	last := k[len(k)-1]
	switch p := parent.(type) {
	case map[string]any:
		if _, ok := p[last]; !ok {
			return false
		}
		delete(p, last)
		return true
	case []any:
		i, ok := index(p, last)
		if !ok {
			return false
		}
		trimmed := append(p[:i:i], p[i+1:]...)
		return parentKey.Set(root, trimmed) == nil
	}
	return false
}

// container walks k creating maps as needed and returns the last container.
func (k KeyPath) container(root map[string]any) (any, error) {
	var cur any = root
	for i, seg := range k {
		next, ok := child(cur, seg)
		switch {
		case ok && isContainer(next):
			cur = next
		case isList(cur):
			return nil, &ConfigError{Path: k[:i+1].String(), Message: "no list element to descend into"}
		default:
			m := map[string]any{}
			cur.(map[string]any)[seg] = m
			cur = m
		}
	}
	return cur, nil
}

func assign(parent any, seg string, v any, full KeyPath) error {
	switch p := parent.(type) {
	case map[string]any:
		p[seg] = v
		return nil
	case []any:
		i, ok := index(p, seg)
		if !ok {
			return &ConfigError{Path: full.String(), Message: "list index out of range"}
		}
		p[i] = v
		return nil
	}
	return &ConfigError{Path: full.String(), Message: "not a map or list"}
}

func child(cur any, seg string) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg]
		return v, ok
	case []any:
		i, ok := index(c, seg)
		if !ok {
			return nil, false
		}
		return c[i], true
	}
	return nil, false
}

func index(list []any, seg string) (int, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= len(list) {
		return 0, false
	}
	return i, true
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}
