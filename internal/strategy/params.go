package strategy

import (
	"encoding/json"
	"strconv"
)

// Params is the free-form parameter map of a strategy. Values may come from
// JSON (float64), YAML (int) or query strings (string).
type Params map[string]any

// Float reads a numeric parameter, falling back to def.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := asFloat(p[key]); ok {
		return v
	}
	return def
}

// Int reads an integer parameter, falling back to def.
func (p Params) Int(key string, def int) int {
	if v, ok := asFloat(p[key]); ok {
		return int(v)
	}
	return def
}

// Bool reads a boolean parameter, falling back to def.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Strings reads a list of strings, falling back to def.
func (p Params) Strings(key string, def []string) []string {
	switch v := p[key].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
