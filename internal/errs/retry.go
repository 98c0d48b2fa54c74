package errs

import (
	"strconv"
	"strings"
)

// IsRateLimited reports whether err indicates upstream rate-limiting: an
// HTTP 429, a RateLimited-kind Error, or (for unstructured errors) text
// containing "429" alongside a rate-limit-shaped phrase.
func IsRateLimited(err error) bool {
	if e, ok := AsGatewayError(err); ok {
		if e.Status != 0 {
			return e.Status == 429
		}
		return e.Kind == KindRateLimited
	}
	msg := err.Error()
	if !strings.Contains(msg, "429") {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "too many") || strings.Contains(lower, "rate") || strings.Contains(lower, "limit")
}

// IsNonRetryable reports whether err should never be retried: any 4xx except
// 408/429, or AuthRequired. Unstructured errors fall back to scanning the
// message text for a leading 3-digit HTTP-status-shaped token.
func IsNonRetryable(err error) bool {
	if e, ok := AsGatewayError(err); ok {
		if e.Status != 0 {
			return is4xxExcept408And429(e.Status)
		}
		if e.Kind == KindAuthRequired {
			return true
		}
		if e.Kind == KindRateLimited {
			return false
		}
	}
	msg := err.Error()
	for _, word := range splitNonDigits(msg) {
		if code, ok := parseStatusCode(word); ok && is4xxExcept408And429(code) {
			return true
		}
	}
	return false
}

func is4xxExcept408And429(code int) bool {
	return code >= 400 && code < 500 && code != 408 && code != 429
}

func splitNonDigits(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r < '0' || r > '9' })
}

func parseStatusCode(word string) (int, bool) {
	n, err := strconv.Atoi(word)
	if err != nil {
		return 0, false
	}
	return n, true
}

var retryAfterPrefixes = []string{"retry-after:", "retry_after:", "retry-after ", "retry_after "}

// ParseRetryAfterMs extracts a Retry-After delay in milliseconds from err: a
// RateLimited error's structured field first, otherwise a case-insensitive
// scan of the message text for "retry-after"/"retry_after" followed by an
// integer or float seconds value.
func ParseRetryAfterMs(err error) (int64, bool) {
	if e, ok := AsGatewayError(err); ok && e.HasRetryAfter {
		return e.RetryAfterMs, true
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, prefix := range retryAfterPrefixes {
		pos := strings.Index(lower, prefix)
		if pos < 0 {
			continue
		}
		after := strings.TrimSpace(msg[pos+len(prefix):])
		numStr := takeWhile(after, func(r rune) bool { return (r >= '0' && r <= '9') || r == '.' })
		secs, err := strconv.ParseFloat(numStr, 64)
		if err != nil || secs < 0 {
			continue
		}
		return int64(secs * 1000), true
	}
	return 0, false
}

func takeWhile(s string, pred func(rune) bool) string {
	var b strings.Builder
	for _, r := range s {
		if !pred(r) {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ComputeBackoff returns min(30000, max(base, retryAfter)) when err carries a
// parseable Retry-After, otherwise base.
func ComputeBackoff(base int64, err error) int64 {
	if retryAfter, ok := ParseRetryAfterMs(err); ok {
		backoff := retryAfter
		if base > backoff {
			backoff = base
		}
		if backoff > 30_000 {
			backoff = 30_000
		}
		return backoff
	}
	return base
}
