// Package record provides path-addressed access to schema-less record trees.
//
// Read sites declare their own defaults through GetOrInit, and the first caller to
// touch a new field materializes it. This is how stored data picks up fields added
// in later versions without migration scripts.
package record

import (
	"math"
	"strings"

	"github.com/fadedpez/cantina/internal/types"
)

// GetOrInit walks path, creating empty maps for missing intermediate keys. If the
// final key is absent it is set to def and created is true, so the caller knows a
// save is needed. An intermediate key that holds a non-map value is a PATH_CONFLICT.
func GetOrInit(rec map[string]any, path []string, def any) (value any, created bool, err error) {
	if len(path) == 0 {
		return nil, false, types.NewError(types.ErrPathConflict, "empty path")
	}

	parent, err := walk(rec, path[:len(path)-1], true)
	if err != nil {
		return nil, false, err
	}

	last := path[len(path)-1]
	if v, ok := parent[last]; ok {
		return v, false, nil
	}
	parent[last] = def
	return def, true, nil
}

// Get returns the value at path without creating anything
func Get(rec map[string]any, path []string) (any, bool, error) {
	if len(path) == 0 {
		return nil, false, types.NewError(types.ErrPathConflict, "empty path")
	}
	parent, err := walk(rec, path[:len(path)-1], false)
	if err != nil || parent == nil {
		return nil, false, err
	}
	v, ok := parent[path[len(path)-1]]
	return v, ok, nil
}

// Set stores v at path, creating intermediate maps as needed
func Set(rec map[string]any, path []string, v any) error {
	if len(path) == 0 {
		return types.NewError(types.ErrPathConflict, "empty path")
	}
	parent, err := walk(rec, path[:len(path)-1], true)
	if err != nil {
		return err
	}
	parent[path[len(path)-1]] = v
	return nil
}

// Delete removes the value at path and prunes any parent maps left empty.
// It reports whether something was removed.
func Delete(rec map[string]any, path []string) (bool, error) {
	if len(path) == 0 {
		return false, types.NewError(types.ErrPathConflict, "empty path")
	}

	chain := make([]map[string]any, 0, len(path))
	current := rec
	for i, key := range path[:len(path)-1] {
		chain = append(chain, current)
		next, ok := current[key]
		if !ok {
			return false, nil
		}
		m, ok := next.(map[string]any)
		if !ok {
			return false, conflict(path[:i+1], next)
		}
		current = m
	}
	chain = append(chain, current)

	last := path[len(path)-1]
	if _, ok := current[last]; !ok {
		return false, nil
	}
	delete(current, last)

	// chain[i] holds path[i]; prune upwards, never removing the root itself.
	for i := len(chain) - 1; i > 0; i-- {
		if len(chain[i]) > 0 {
			break
		}
		delete(chain[i-1], path[i-1])
	}
	return true, nil
}

// Map returns the map at path, creating an empty one if absent
func Map(rec map[string]any, path []string) (map[string]any, bool, error) {
	v, created, err := GetOrInit(rec, path, map[string]any{})
	if err != nil {
		return nil, false, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false, conflict(path, v)
	}
	return m, created, nil
}

// Int returns the integer at path, initializing it to def if absent
func Int(rec map[string]any, path []string, def int64) (int64, bool, error) {
	v, created, err := GetOrInit(rec, path, def)
	if err != nil {
		return 0, false, err
	}
	n, ok := AsInt(v)
	if !ok {
		return 0, false, conflict(path, v)
	}
	return n, created, nil
}

// String returns the string at path, initializing it to def if absent
func String(rec map[string]any, path []string, def string) (string, bool, error) {
	v, created, err := GetOrInit(rec, path, def)
	if err != nil {
		return "", false, err
	}
	s, ok := v.(string)
	if !ok {
		return "", false, conflict(path, v)
	}
	return s, created, nil
}

// AsInt converts a stored number to int64. Whole floats are accepted because older
// files may have been written by tools that do not keep the int/float distinction.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1<<63 {
			return int64(n), true
		}
	}
	return 0, false
}

func walk(rec map[string]any, path []string, create bool) (map[string]any, error) {
	if rec == nil {
		if !create {
			return nil, nil
		}
		return nil, types.NewError(types.ErrPathConflict, "nil record")
	}
	current := rec
	for i, key := range path {
		next, ok := current[key]
		if !ok {
			if !create {
				return nil, nil
			}
			m := map[string]any{}
			current[key] = m
			current = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, conflict(path[:i+1], next)
		}
		current = m
	}
	return current, nil
}

func conflict(path []string, found any) error {
	return types.Errorf(types.ErrPathConflict, "%s holds %T, expected a different shape", strings.Join(path, "."), found)
}
