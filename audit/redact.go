package audit

import "strings"

// RedactedValue replaces every metadata value whose key matches the
// denylist.
const RedactedValue = "[REDACTED]"

// DefaultDenylist matches the usual credential-bearing keys. Matching is a
// case-insensitive substring test, so "apikey" also catches "openai_api_key"
// and "ApiKeyId".
func DefaultDenylist() []string {
	return []string{
		"apikey",
		"api_key",
		"password",
		"passwd",
		"secret",
		"token",
		"authorization",
		"credential",
		"cookie",
		"private_key",
	}
}

// redactMetadata returns a deep copy of the metadata with every denylisted
// key's value replaced, at any nesting depth. The input is never mutated.
func redactMetadata(metadata map[string]interface{}, denylist []string) map[string]interface{} {
	if metadata == nil {
		return nil
	}

	out := make(map[string]interface{}, len(metadata))
	for key, value := range metadata {
		if sensitiveKey(key, denylist) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactValue(value, denylist)
	}
	return out
}

func redactValue(value interface{}, denylist []string) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return redactMetadata(v, denylist)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = redactValue(item, denylist)
		}
		return out
	default:
		return value
	}
}

func sensitiveKey(key string, denylist []string) bool {
	lowered := strings.ToLower(key)
	for _, deny := range denylist {
		if strings.Contains(lowered, deny) {
			return true
		}
	}
	return false
}
