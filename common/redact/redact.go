// Package redact keeps credentials and conversation content out of logs.
//
// Users share how they feel with Ami; their words are never logged
// verbatim. Handlers log Text(msg) instead, and configuration dumps pass
// through Secret before they are printed.
package redact

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const mask = "[REDACTED]"

// Values replaces every occurrence of each sensitive value in s. Values
// shorter than four bytes are ignored to avoid shredding ordinary words.
func Values(s string, sensitive ...string) string {
	for _, v := range sensitive {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, mask)
	}
	return s
}

// Secret renders a credential for display: empty stays empty, anything
// shorter than twelve bytes is fully masked, longer values keep their last
// four characters.
func Secret(v string) string {
	switch {
	case v == "":
		return ""
	case len(v) < 12:
		return mask
	default:
		return mask + v[len(v)-4:]
	}
}

// Text summarizes user-authored text without revealing it.
func Text(s string) string {
	return fmt.Sprintf("<%d runes>", utf8.RuneCountInString(s))
}

// Fields masks values whose key names look like credentials. The input is
// not modified.
func Fields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if sensitiveKey(k) {
			out[k] = Secret(v)
			continue
		}
		out[k] = v
	}
	return out
}

func sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, w := range []string{"password", "token", "secret", "key", "credential", "auth"} {
		if strings.Contains(k, w) {
			return true
		}
	}
	return false
}
