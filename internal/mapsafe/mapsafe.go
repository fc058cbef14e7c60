// Package mapsafe reads typed values out of loosely typed parameter maps
// decoded from YAML or JSON.
package mapsafe

// Get retrieves a typed value from a map[string]any.
// Numbers are converted between int and float64 since YAML decodes integers
// as int and JSON decodes every number as float64. If the key is missing or the
// value cannot be converted, defaultValue is returned.
func Get[T any](m map[string]any, key string, defaultValue T) T {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case int:
		if n, ok := toFloat(val); ok {
			return any(int(n)).(T)
		}
	case float64:
		if n, ok := toFloat(val); ok {
			return any(n).(T)
		}
	default:
		if v, ok := val.(T); ok {
			return v
		}
	}

	return defaultValue
}

// Merge returns a new map holding base overlaid with override.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func toFloat(val any) (float64, bool) {
	switch x := val.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}
