// Package lead exposes the read-only, tenant-scoped lead record consumed by
// CONDITION and SMS_TEMPLATE nodes. Records are dot-path addressable: a path
// like "contact.email" traverses nested objects in the flattened record.
package lead

import (
	"fmt"
	"strings"
)

// Record is a flattened lead document. Values may be scalars or nested maps.
type Record map[string]any

// Get resolves a dot-notation path against the record. The second return
// value reports whether the full path resolved to a non-nil value.
func (r Record) Get(path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// Exists reports whether the path resolves to a non-nil value.
func (r Record) Exists(path string) bool {
	_, ok := r.Get(path)
	return ok
}

// GetString resolves a path and renders the value as a string.
// Non-string scalars are formatted with fmt; missing paths return ("", false).
func (r Record) GetString(path string) (string, bool) {
	v, ok := r.Get(path)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
