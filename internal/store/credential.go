// Package store implements the on-disk credential store: provider-keyed,
// ordered account lists with health-window tracking, atomic JSON
// persistence, legacy single-credential migration, and environment/file
// credential discovery.
package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// CredentialKind discriminates the tagged Credential union.
type CredentialKind string

const (
	// KindAPIKey is a bare API key string.
	KindAPIKey CredentialKind = "api_key"
	// KindOAuth is an OAuth token pair with expiry and provider-specific extras.
	KindOAuth CredentialKind = "o_auth"
	// KindSetupToken is a first-party-CLI-issued setup token (e.g. Claude Code).
	KindSetupToken CredentialKind = "setup_token"
)

// Credential is the tagged union of the three credential shapes a provider
// account may hold. Exactly one of the typed fields is populated, selected
// by Kind.
type Credential struct {
	Kind CredentialKind `json:"type"`

	// ApiKey fields.
	Key string `json:"key,omitempty"`

	// OAuth fields.
	Refresh   string                 `json:"refresh,omitempty"`
	Access    string                 `json:"access,omitempty"`
	ExpiresMs int64                  `json:"expires,omitempty"`
	Extra     map[string]interface{} `json:"-"`

	// SetupToken fields.
	Token string `json:"token,omitempty"`
}

// NewAPIKeyCredential builds an ApiKey credential.
func NewAPIKeyCredential(key string) Credential {
	return Credential{Kind: KindAPIKey, Key: key}
}

// NewSetupTokenCredential builds a SetupToken credential.
func NewSetupTokenCredential(token string) Credential {
	return Credential{Kind: KindSetupToken, Token: token}
}

// NewOAuthCredential builds an OAuth credential.
func NewOAuthCredential(refresh, access string, expiresMs int64, extra map[string]interface{}) Credential {
	return Credential{Kind: KindOAuth, Refresh: refresh, Access: access, ExpiresMs: expiresMs, Extra: extra}
}

// Materialize returns the API-key-shaped string this credential resolves to.
// For OAuth credentials carrying a "projectId" extra field, it returns a JSON
// envelope {"token":access,"projectId":projectId} (the Cloud Code Assist
// calling convention); otherwise it returns the raw secret.
func (c Credential) Materialize() (string, bool) {
	switch c.Kind {
	case KindAPIKey:
		return c.Key, true
	case KindSetupToken:
		return c.Token, true
	case KindOAuth:
		if pid, ok := c.Extra["projectId"].(string); ok && pid != "" {
			envelope, err := json.Marshal(map[string]string{"token": c.Access, "projectId": pid})
			if err == nil {
				return string(envelope), true
			}
		}
		return c.Access, true
	default:
		return "", false
	}
}

// IsExpired reports whether an OAuth credential's access token has passed its
// expiry at nowMs. Non-OAuth credentials never expire.
func (c Credential) IsExpired(nowMs int64) bool {
	return c.Kind == KindOAuth && nowMs >= c.ExpiresMs
}

// credentialWire is the on-disk shape: OAuth's extra map is flattened into
// the same object as refresh/access/expires, mirroring the reference
// implementation's serde(flatten) behaviour.
type credentialWire struct {
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	Refresh string `json:"refresh,omitempty"`
	Access  string `json:"access,omitempty"`
	Expires int64  `json:"expires,omitempty"`
	Token   string `json:"token,omitempty"`
}

// MarshalJSON flattens OAuth's Extra map alongside the fixed fields.
func (c Credential) MarshalJSON() ([]byte, error) {
	base := map[string]interface{}{"type": string(c.Kind)}
	switch c.Kind {
	case KindAPIKey:
		base["key"] = c.Key
	case KindSetupToken:
		base["token"] = c.Token
	case KindOAuth:
		base["refresh"] = c.Refresh
		base["access"] = c.Access
		base["expires"] = c.ExpiresMs
		for k, v := range c.Extra {
			base[k] = v
		}
	default:
		return nil, fmt.Errorf("store: credential has no kind set")
	}
	return json.Marshal(base)
}

// UnmarshalJSON un-flattens OAuth's extra fields back into Extra.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var wire credentialWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Kind = CredentialKind(wire.Type)
	c.Key = wire.Key
	c.Refresh = wire.Refresh
	c.Access = wire.Access
	c.ExpiresMs = wire.Expires
	c.Token = wire.Token
	c.Extra = nil

	if c.Kind == KindOAuth {
		extra := make(map[string]interface{}, len(raw))
		for k, v := range raw {
			switch k {
			case "type", "refresh", "access", "expires":
				continue
			default:
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			c.Extra = extra
		}
	}
	return nil
}

// Account is one credential slot for a provider.
type Account struct {
	ID                string     `json:"id"`
	Label             string     `json:"label,omitempty"`
	Credential        Credential `json:"credential"`
	UnhealthyUntilMs  *int64     `json:"unhealthyUntilMs,omitempty"`
	LastRateLimitedMs *int64     `json:"lastRateLimitedMs,omitempty"`
}

// IsHealthyAt reports whether the account is eligible for selection at nowMs.
func (a Account) IsHealthyAt(nowMs int64) bool {
	if a.UnhealthyUntilMs == nil {
		return true
	}
	return *a.UnhealthyUntilMs <= nowMs
}

// DisplayLabel returns the account's label, or a derived placeholder when unset.
func (a Account) DisplayLabel() string {
	if a.Label != "" {
		return a.Label
	}
	prefix := a.ID
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return fmt.Sprintf("account-%s", prefix)
}

// ProviderAccounts is the ordered account list for one provider.
type ProviderAccounts struct {
	Accounts []Account `json:"accounts"`
}

// AccountSelection is the short-lived result of resolving a provider's
// active account: an id to report back on rate-limit, and the materialised
// key to use for this one call.
type AccountSelection struct {
	AccountID string
	APIKey    string
}

// AppConfig is the full on-disk document.
type AppConfig struct {
	Credentials       map[string]Credential       `json:"credentials,omitempty"`
	ProviderAccounts  map[string]ProviderAccounts `json:"providerAccounts,omitempty"`
	EnabledModels     []string                    `json:"enabledModels"`
	ProviderModelsURL map[string]string           `json:"providerModelsURL,omitempty"`
}

func newAppConfig() *AppConfig {
	return &AppConfig{
		Credentials:       map[string]Credential{},
		ProviderAccounts:  map[string]ProviderAccounts{},
		EnabledModels:     []string{},
		ProviderModelsURL: map[string]string{},
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
