// Package version turns arbitrary game version strings into tokens that are safe to use
// as a single path segment or key component.
package version

import "strings"

// Prefix marks a normalized version token.
const Prefix = "v"

// Normalize replaces every character outside [A-Za-z0-9] with an underscore, collapses
// underscore runs, trims them from both ends and prepends Prefix.
// A body that already starts with Prefix is not prefixed again, which keeps
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)

	pending := false
	for _, r := range raw {
		if isAlnum(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}

	body := b.String()
	if strings.HasPrefix(body, Prefix) {
		return body
	}

	return Prefix + body
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
