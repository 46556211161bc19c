// Package record models the loosely-typed documents returned by the
// platform's list and get endpoints. Field names vary by entity kind and
// tenant, so every accessor takes an ordered list of candidate keys and
// returns the first usable value.
package record

import (
	"strconv"
	"strings"
)

// Record is one decoded JSON object from the API.
type Record map[string]any

// String returns the first non-empty string value among keys.
func (r Record) String(keys ...string) string {
	for _, k := range keys {
		if s, ok := r[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Int64 returns the first value among keys convertible to an int64.
// JSON numbers decode as float64; numeric strings are accepted too.
func (r Record) Int64(keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			return int64(v), true
		case int64:
			return v, true
		case int:
			return int64(v), true
		case string:
			if v == "" {
				continue
			}
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Float64 returns the first numeric value among keys.
func (r Record) Float64(keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := r[k].(type) {
		case float64:
			return v, true
		case int64:
			return float64(v), true
		case int:
			return float64(v), true
		}
	}
	return 0, false
}

// Bool returns the value under key, or fallback when absent or not a bool.
func (r Record) Bool(key string, fallback bool) bool {
	if b, ok := r[key].(bool); ok {
		return b
	}
	return fallback
}

// Child returns the nested object under the first matching key, or nil.
func (r Record) Child(keys ...string) Record {
	for _, k := range keys {
		if m, ok := r[k].(map[string]any); ok {
			return Record(m)
		}
	}
	return nil
}

// List returns the array of objects under the first matching key.
func (r Record) List(keys ...string) []Record {
	for _, k := range keys {
		raw, ok := r[k].([]any)
		if !ok {
			continue
		}
		out := make([]Record, 0, len(raw))
		for _, el := range raw {
			if m, ok := el.(map[string]any); ok {
				out = append(out, Record(m))
			}
		}
		return out
	}
	return nil
}

// ID returns the record's identifier as a string, trying the common id
// field spellings in order.
func (r Record) ID() string {
	if n, ok := r.Int64("id"); ok {
		return strconv.FormatInt(n, 10)
	}
	return r.String("id", "guid", "externalId")
}
