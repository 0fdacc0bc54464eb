package trace

import "strings"

const maxAttrLen = 2000

var sensitiveTokens = []string{"token", "authorization", "api_key", "secret"}

// redactAttrs returns a copy of attrs with credential-looking values replaced
// and oversized strings truncated, so trace records are safe to ship to logs.
func redactAttrs(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if sensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = safeValue(v)
	}
	return out
}

func sensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, token := range sensitiveTokens {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

func safeValue(v any) any {
	switch val := v.(type) {
	case string:
		lowered := strings.ToLower(val)
		for _, token := range sensitiveTokens {
			if strings.Contains(lowered, token) {
				return "[REDACTED]"
			}
		}
		if len(val) > maxAttrLen {
			return val[:maxAttrLen] + "...[truncated]"
		}
		return val
	case map[string]any:
		return redactAttrs(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = safeValue(item)
		}
		return out
	default:
		return v
	}
}
