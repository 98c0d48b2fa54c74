package oauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// anthropicClientIDB64 is the Claude Pro/Max OAuth client id, base64-encoded
// at build time. Decoding is purely mechanical.
const anthropicClientIDB64 = "OWQxYzI1MGEtZTYxYi00NGQ5LTg4ZWQtNTk0NGQxOTYyZjVl"

const (
	anthropicAuthorizeURL = "https://claude.ai/oauth/authorize"
	anthropicTokenURL     = "https://console.anthropic.com/v1/oauth/token"
	anthropicRedirectURI  = "https://console.anthropic.com/oauth/code/callback"
	anthropicScopes       = "org:create_api_key user:profile user:inference"
)

func anthropicClientID() string {
	b, err := base64.StdEncoding.DecodeString(anthropicClientIDB64)
	if err != nil {
		return ""
	}
	return string(b)
}

// AnthropicProvider implements the Claude Pro/Max subscription OAuth flow:
// authorization-code + PKCE with a paste-back code#state string.
type AnthropicProvider struct{}

// NewAnthropicProvider constructs the Anthropic OAuth provider.
func NewAnthropicProvider() *AnthropicProvider { return &AnthropicProvider{} }

func (p *AnthropicProvider) ID() string          { return "anthropic" }
func (p *AnthropicProvider) DisplayName() string { return "Anthropic (Claude Pro/Max)" }

func (p *AnthropicProvider) Login(ctx context.Context, cb Callbacks) (Credentials, error) {
	clientID := anthropicClientID()
	pkce, err := GeneratePKCE()
	if err != nil {
		return Credentials{}, err
	}

	q := url.Values{}
	q.Set("code", "true")
	q.Set("client_id", clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", anthropicRedirectURI)
	q.Set("scope", anthropicScopes)
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", pkce.Verifier)
	authURL := anthropicAuthorizeURL + "?" + q.Encode()

	cb.OnAuth(AuthInfo{
		URL:          authURL,
		Instructions: "Complete sign-in in your browser, then paste the authorization code.",
	})

	authCode, err := cb.OnPrompt(ctx, Prompt{Message: "Paste the authorization code (format: code#state):"})
	if err != nil {
		return Credentials{}, fmt.Errorf("oauth: anthropic login cancelled: %w", err)
	}

	code, state, _ := strings.Cut(authCode, "#")

	cb.OnProgress("Exchanging authorization code for tokens...")

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	err = postJSON(anthropicTokenURL, map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     clientID,
		"code":          code,
		"state":         state,
		"redirect_uri":  anthropicRedirectURI,
		"code_verifier": pkce.Verifier,
	}, nil, &tok)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{
		Refresh:   tok.RefreshToken,
		Access:    tok.AccessToken,
		ExpiresMs: expiresWithSafetyMargin(nowMs(), tok.ExpiresIn),
	}, nil
}

func (p *AnthropicProvider) Refresh(old Credentials) (Credentials, error) {
	clientID := anthropicClientID()

	var data struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	err := postJSON(anthropicTokenURL, map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     clientID,
		"refresh_token": old.Refresh,
	}, nil, &data)
	if err != nil {
		return Credentials{}, err
	}

	refresh := data.RefreshToken
	if refresh == "" {
		refresh = old.Refresh
	}
	return Credentials{
		Refresh:   refresh,
		Access:    data.AccessToken,
		ExpiresMs: expiresWithSafetyMargin(nowMs(), data.ExpiresIn),
	}, nil
}

func (p *AnthropicProvider) Materialize(creds Credentials) string {
	return creds.Access
}
