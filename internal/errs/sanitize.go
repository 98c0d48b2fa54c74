package errs

import "strings"

const maxAPIErrorChars = 200

var secretPrefixes = []string{"sk-", "xoxb-", "xoxp-"}

func isSecretChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == ':':
		return true
	default:
		return false
	}
}

func tokenEnd(s string, from int) int {
	end := from
	for i, r := range s[from:] {
		if isSecretChar(r) {
			end = from + i + len(string(r))
		} else {
			break
		}
	}
	return end
}

// ScrubSecretPatterns redacts known secret-shaped tokens (sk-, xoxb-, xoxp-
// prefixed runs of alphanumeric/-/_/./: characters) with "[REDACTED]". A
// bare prefix with nothing secret-shaped following it is left untouched.
func ScrubSecretPatterns(input string) string {
	scrubbed := input
	for _, prefix := range secretPrefixes {
		searchFrom := 0
		for {
			rel := strings.Index(scrubbed[searchFrom:], prefix)
			if rel < 0 {
				break
			}
			start := searchFrom + rel
			contentStart := start + len(prefix)
			end := tokenEnd(scrubbed, contentStart)

			if end == contentStart {
				searchFrom = contentStart
				continue
			}

			scrubbed = scrubbed[:start] + "[REDACTED]" + scrubbed[end:]
			searchFrom = start + len("[REDACTED]")
		}
	}
	return scrubbed
}

// SanitizeAPIError scrubs secrets from input then truncates to 200 runes,
// appending "..." when truncation occurred. Idempotent: re-sanitising the
// output is a no-op.
func SanitizeAPIError(input string) string {
	scrubbed := ScrubSecretPatterns(input)

	runes := []rune(scrubbed)
	if len(runes) <= maxAPIErrorChars {
		return scrubbed
	}
	return string(runes[:maxAPIErrorChars]) + "..."
}
