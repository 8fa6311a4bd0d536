package types

import (
	"strings"
	"unicode"

	"github.com/bytedance/sonic"
)

// Backend payloads arrive with mixed key conventions: the session endpoints
// emit snake_case while some instance endpoints pass through camelCase from
// their upstream workflow state. Normalization happens once, here, at the
// decode boundary so everything downstream sees snake_case only.

// SnakeCase converts a camelCase key to snake_case. Uppercase runs stay one
// word ("sessionID" → "session_id", "APIKey" → "api_key"); keys already in
// snake_case pass through unchanged.
func SnakeCase(key string) string {
	if !strings.ContainsFunc(key, unicode.IsUpper) {
		return key
	}
	runes := []rune(key)
	var b strings.Builder
	b.Grow(len(key) + 4)
	for i, r := range runes {
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		// A word boundary sits after a lowercase or digit, or inside an
		// uppercase run right before its trailing lowercase (the "K" in
		// "APIKey" starts "key").
		if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
			(unicode.IsUpper(runes[i-1]) && i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// NormalizeKeys rewrites every map key in a decoded JSON value to
// snake_case, recursing through nested objects and arrays.
func NormalizeKeys(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[SnakeCase(k)] = NormalizeKeys(child)
		}
		return out
	case []interface{}:
		for i, child := range v {
			v[i] = NormalizeKeys(child)
		}
		return v
	default:
		return value
	}
}

// DecodeNormalized unmarshals raw JSON into target after key normalization.
func DecodeNormalized(raw []byte, target interface{}) error {
	var generic interface{}
	if err := sonic.Unmarshal(raw, &generic); err != nil {
		return err
	}
	normalized, err := sonic.Marshal(NormalizeKeys(generic))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(normalized, target)
}
