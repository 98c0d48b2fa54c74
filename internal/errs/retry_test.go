package errs

import (
	"errors"
	"testing"
)

func httpErr(status int) error {
	return &Error{Kind: KindHTTPUpstream, Status: status}
}

func TestIsNonRetryable4xxExcept429And408(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404} {
		if !IsNonRetryable(httpErr(status)) {
			t.Errorf("expected %d to be non-retryable", status)
		}
	}
	for _, status := range []int{429, 408} {
		if IsNonRetryable(httpErr(status)) {
			t.Errorf("expected %d to be retryable", status)
		}
	}
}

func TestIsNonRetryable5xxAndOther(t *testing.T) {
	if IsNonRetryable(httpErr(500)) || IsNonRetryable(httpErr(502)) {
		t.Fatalf("5xx should be retryable")
	}
	if IsNonRetryable(errors.New("timeout")) || IsNonRetryable(errors.New("connection reset")) {
		t.Fatalf("unstructured non-status errors should be retryable")
	}
}

func TestIsNonRetryableAuthRequired(t *testing.T) {
	if !IsNonRetryable(AuthRequired("key required")) {
		t.Fatalf("AuthRequired should be non-retryable")
	}
}

func TestIsNonRetryableParsesMessageForStatus(t *testing.T) {
	if !IsNonRetryable(errors.New("400 Bad Request")) {
		t.Fatalf("expected 400 text to be non-retryable")
	}
	if !IsNonRetryable(errors.New("401 Unauthorized")) {
		t.Fatalf("expected 401 text to be non-retryable")
	}
	if IsNonRetryable(errors.New("429 Too Many Requests")) {
		t.Fatalf("expected 429 text to be retryable")
	}
}

func TestIsRateLimited429(t *testing.T) {
	if !IsRateLimited(httpErr(429)) {
		t.Fatalf("expected 429 to be rate limited")
	}
	if !IsRateLimited(&Error{Kind: KindRateLimited}) {
		t.Fatalf("expected RateLimited kind to be rate limited")
	}
}

func TestIsRateLimitedOthersFalse(t *testing.T) {
	if IsRateLimited(httpErr(400)) || IsRateLimited(httpErr(500)) {
		t.Fatalf("expected non-429 http errors to not be rate limited")
	}
	if IsRateLimited(errors.New("timeout")) {
		t.Fatalf("expected plain timeout to not be rate limited")
	}
}

func TestIsRateLimitedMessageContains429AndKeyword(t *testing.T) {
	if !IsRateLimited(errors.New("429 Too Many Requests")) {
		t.Fatalf("expected text match")
	}
	if !IsRateLimited(errors.New("HTTP 429 rate limit exceeded")) {
		t.Fatalf("expected text match")
	}
}

func TestParseRetryAfterMsInteger(t *testing.T) {
	err := errors.New("429 Too Many Requests, Retry-After: 5")
	ms, ok := ParseRetryAfterMs(err)
	if !ok || ms != 5000 {
		t.Fatalf("want 5000, got %d ok=%v", ms, ok)
	}
}

func TestParseRetryAfterMsFloat(t *testing.T) {
	err := errors.New("Rate limited. retry_after: 2.5 seconds")
	ms, ok := ParseRetryAfterMs(err)
	if !ok || ms != 2500 {
		t.Fatalf("want 2500, got %d ok=%v", ms, ok)
	}
}

func TestParseRetryAfterMsMissing(t *testing.T) {
	if _, ok := ParseRetryAfterMs(errors.New("500 Internal Server Error")); ok {
		t.Fatalf("expected no match")
	}
}

func TestParseRetryAfterMsFromStructuredError(t *testing.T) {
	err := &Error{Kind: KindRateLimited, RetryAfterMs: 3000, HasRetryAfter: true}
	ms, ok := ParseRetryAfterMs(err)
	if !ok || ms != 3000 {
		t.Fatalf("want 3000, got %d ok=%v", ms, ok)
	}
}

func TestComputeBackoffUsesRetryAfter(t *testing.T) {
	err := errors.New("429 Retry-After: 3")
	if got := ComputeBackoff(500, err); got != 3000 {
		t.Fatalf("want 3000, got %d", got)
	}
}

func TestComputeBackoffCapsAt30s(t *testing.T) {
	err := errors.New("429 Retry-After: 120")
	if got := ComputeBackoff(500, err); got != 30_000 {
		t.Fatalf("want 30000, got %d", got)
	}
}

func TestComputeBackoffFallsBackToBase(t *testing.T) {
	err := errors.New("500 Server Error")
	if got := ComputeBackoff(500, err); got != 500 {
		t.Fatalf("want 500, got %d", got)
	}
	if got := ComputeBackoff(2000, err); got != 2000 {
		t.Fatalf("want 2000, got %d", got)
	}
}
