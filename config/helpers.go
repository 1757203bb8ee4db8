package config

import (
	"strconv"
	"time"
)

// Property helpers read typed values out of component properties, which
// arrive as JSON or YAML decoded maps. They never panic and fall back to
// the default on a missing key or an unexpected type.

// GetString extracts a string property
func GetString(props map[string]any, key string, defaultVal string) string {
	if str, ok := props[key].(string); ok {
		return str
	}
	return defaultVal
}

// GetInt extracts an integer property. Numeric strings are accepted.
func GetInt(props map[string]any, key string, defaultVal int) int {
	switch v := props[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// GetFloat64 extracts a float property
func GetFloat64(props map[string]any, key string, defaultVal float64) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	}
	return defaultVal
}

// GetBool extracts a boolean property. "true" and "false" strings are accepted.
func GetBool(props map[string]any, key string, defaultVal bool) bool {
	switch v := props[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// GetDuration extracts a duration property given as "30s" or as nanoseconds
func GetDuration(props map[string]any, key string, defaultVal time.Duration) time.Duration {
	switch v := props[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := parseDuration(v); err == nil {
			return d
		}
	case float64:
		return time.Duration(v)
	case int:
		return time.Duration(v)
	case int64:
		return time.Duration(v)
	}
	return defaultVal
}

// GetStringSlice extracts a string list property. A single string is
// returned as a one element list.
func GetStringSlice(props map[string]any, key string, defaultVal []string) []string {
	switch v := props[key].(type) {
	case []string:
		return v
	case string:
		return []string{v}
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return defaultVal
			}
			result = append(result, str)
		}
		return result
	}
	return defaultVal
}

// GetNested walks nested maps along keys and returns the final value
func GetNested(props map[string]any, keys ...string) (any, bool) {
	current := props
	for i, key := range keys {
		val, ok := current[key]
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return val, true
		}
		nested, ok := val.(map[string]any)
		if !ok {
			return nil, false
		}
		current = nested
	}
	return nil, false
}

// GetNestedString extracts a nested string property
func GetNestedString(props map[string]any, keys []string, defaultVal string) string {
	if val, ok := GetNested(props, keys...); ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}
