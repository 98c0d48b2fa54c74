// Package oauth implements the token-acquisition and renewal lifecycle for
// OAuth-backed provider credentials: PKCE authorization-code flows, the
// GitHub Copilot device-code flow, Cloud Code Assist project discovery, and
// the background renewal loop that keeps near-expiry tokens fresh without
// blocking in-flight dispatch.
package oauth

import (
	"context"
	"fmt"
	"time"
)

// AuthInfo describes the authorization URL a Callbacks implementation should
// present to the user, plus optional free-form instructions.
type AuthInfo struct {
	URL          string
	Instructions string
}

// Prompt describes an input the login flow needs from the user (e.g. an
// authorization code or a full redirect URL pasted back from the browser).
type Prompt struct {
	Message     string
	Placeholder string
}

// Callbacks is the login flow's sole channel to the outside world. The
// engine never touches a terminal or browser directly; it drives whatever
// implementation is supplied (TUI, CLI prompt, test double).
type Callbacks interface {
	OnAuth(info AuthInfo)
	OnPrompt(ctx context.Context, prompt Prompt) (string, error)
	OnProgress(message string)
}

// Credentials is the result of a login or refresh: a long-lived refresh
// token, a short-lived access token, its expiry, and provider-specific
// extras (e.g. "projectId" for the Google Cloud Code Assist variants).
type Credentials struct {
	Refresh   string
	Access    string
	ExpiresMs int64
	Extra     map[string]interface{}
}

// expiresWithSafetyMargin converts an expires_in (seconds) duration received
// at nowMs into an absolute millisecond expiry with a 5-minute safety
// margin subtracted, so a token is never presented right at its deadline.
func expiresWithSafetyMargin(nowMs, expiresInSec int64) int64 {
	return nowMs + expiresInSec*1000 - 5*60*1000
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Provider is the OAuth engine's dynamic-dispatch abstraction: one
// implementation per provider id, constructed once at boot and registered.
type Provider interface {
	ID() string
	DisplayName() string
	Login(ctx context.Context, cb Callbacks) (Credentials, error)
	Refresh(old Credentials) (Credentials, error)
	Materialize(creds Credentials) string
}

// Registry maps provider id to its constructed OAuthProvider instance.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry populated with every in-scope OAuth
// provider: Anthropic (Claude Pro/Max), Google gemini-cli and antigravity
// (Cloud Code Assist), and GitHub Copilot (device flow).
func NewRegistry() *Registry {
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range []Provider{
		NewAnthropicProvider(),
		NewGeminiCLIProvider(),
		NewAntigravityProvider(),
		NewGitHubCopilotProvider(),
	} {
		r.providers[p.ID()] = p
	}
	return r
}

// Get returns the registered provider for id, if any.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// All returns every registered provider, for UI listing purposes.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

func errExchange(provider string, status int, body string) error {
	return fmt.Errorf("oauth: %s token exchange failed (status %d): %s", provider, status, truncate(body, 300))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
