// Package errs implements the gateway's error taxonomy and the two pieces of
// shared retry logic every provider adapter and the dispatch core rely on:
// classifying an error as rate-limited/non-retryable, and sanitising an
// upstream error body before it leaves the process.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable classification of a gateway error.
type Kind string

const (
	// KindAuthRequired means no credential was available, or the upstream
	// rejected the request with 401/403.
	KindAuthRequired Kind = "auth_required"
	// KindRateLimited means the upstream returned 429 or a textual rate-limit match.
	KindRateLimited Kind = "rate_limited"
	// KindHTTPUpstream is any other non-2xx upstream response.
	KindHTTPUpstream Kind = "http_upstream"
	// KindNetwork is a transport failure before response headers arrived.
	KindNetwork Kind = "network"
	// KindParse is a malformed upstream JSON/SSE payload.
	KindParse Kind = "parse"
	// KindConfig is a credential-store parse/serialise/lock failure.
	KindConfig Kind = "config"
	// KindNotFound is an unknown fullModelID at dispatch.
	KindNotFound Kind = "not_found"
)

// Error is the gateway's single error type, carrying a machine-readable Kind
// and, for upstream HTTP failures, the status code and sanitised body.
type Error struct {
	Kind          Kind
	Status        int
	Body          string
	RetryAfterMs  int64
	HasRetryAfter bool
	Message       string
	Wrapped       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Body)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Wrapped)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// AuthRequired builds an AuthRequired error.
func AuthRequired(message string) *Error {
	return &Error{Kind: KindAuthRequired, Message: message}
}

// NotFound builds a NotFound error for an unresolved model id.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Config wraps a credential-store failure.
func Config(wrapped error) *Error {
	return &Error{Kind: KindConfig, Wrapped: wrapped}
}

// Network wraps a pre-headers transport failure.
func Network(wrapped error) *Error {
	return &Error{Kind: KindNetwork, Wrapped: wrapped}
}

// Parse wraps a malformed-payload failure.
func Parse(wrapped error) *Error {
	return &Error{Kind: KindParse, Wrapped: wrapped}
}

// HTTPUpstream builds an upstream HTTP error with a sanitised body. When
// status is 429, RetryAfterMs/HasRetryAfter are populated from retryAfterMs
// if it was parsed from a Retry-After header by the caller.
func HTTPUpstream(status int, rawBody string, retryAfterMs int64, hasRetryAfter bool) *Error {
	kind := KindHTTPUpstream
	if status == 401 || status == 403 {
		kind = KindAuthRequired
	} else if status == 429 {
		kind = KindRateLimited
	}
	return &Error{
		Kind:          kind,
		Status:        status,
		Body:          SanitizeAPIError(rawBody),
		RetryAfterMs:  retryAfterMs,
		HasRetryAfter: hasRetryAfter,
	}
}

// AsGatewayError unwraps err into *Error if possible.
func AsGatewayError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
