// Package redact masks credentials and personal data before they reach logs.
package redact

import "strings"

// Email keeps the domain and the first two runes of the local part.
// Anything that is not a single-'@' address is fully masked.
//
//	"foobar@example.com" -> "fo***@example.com"
//	"ab@ex.com"          -> "***@ex.com"
//	"no-at"              -> "***"
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}
	return local + "@" + domain
}

// TokenTail returns a marker identifying a token by its last four characters,
// enough to correlate log lines without exposing the token.
func TokenTail(tok string) string {
	if tok == "" {
		return "<none>"
	}
	if len(tok) <= 8 {
		return Token()
	}
	return "…" + tok[len(tok)-4:]
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
