// Package transcript locates, parses, and redacts raw agent activity
// logs. The raw log is authoritative and is archived byte-for-byte
// before anything in this package runs against it.
package transcript

import (
	"regexp"
	"strings"
)

// privateTagRegex matches <private>...</private> spans in exchange text.
var privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

// sensitiveKeys are parameter names whose values never reach persistence.
// Matching is case-insensitive on the normalized key (separators removed).
var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"apikey":        {},
	"apitoken":      {},
	"accesskey":     {},
	"secret":        {},
	"password":      {},
	"passphrase":    {},
	"credential":    {},
	"authorization": {},
	"cookie":        {},
	"privatekey":    {},
}

// RedactedValue replaces any sensitive parameter value.
const RedactedValue = "[redacted]"

// RedactParams returns params with sensitive values replaced. The input
// map is not modified.
func RedactParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return params
	}
	out := make(map[string]string, len(params))
	for key, value := range params {
		if isSensitiveKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = value
	}
	return out
}

// StripPrivate removes all <private>...</private> content from text and
// trims the result.
func StripPrivate(text string) string {
	return strings.TrimSpace(privateTagRegex.ReplaceAllString(text, ""))
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(key)
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").Replace(normalized)
	if _, ok := sensitiveKeys[normalized]; ok {
		return true
	}
	// "github_api_token" style compounds
	for sensitive := range sensitiveKeys {
		if strings.HasSuffix(normalized, sensitive) {
			return true
		}
	}
	return false
}
