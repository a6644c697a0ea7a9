package config

import "strings"

// NormalizeExtensionID folds a user-written extension name into the id that
// tags session logs and error events. Letters are lowercased; ASCII letters,
// digits, "." and "_" are kept, and every other run of characters becomes a
// single "-". Separators never lead or trail, so "  My Robot! " is "my-robot".
// A name with nothing to keep normalizes to "", which Validate rejects.
func NormalizeExtensionID(name string) string {
	var b strings.Builder
	gap := false
	for _, r := range strings.ToLower(name) {
		if !isIDRune(r) {
			gap = true
			continue
		}
		if gap && b.Len() > 0 {
			b.WriteByte('-')
		}
		gap = false
		b.WriteRune(r)
	}
	return b.String()
}

func isIDRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_'
}
