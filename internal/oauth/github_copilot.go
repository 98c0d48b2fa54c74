package oauth

import (
	"context"
	"fmt"
	"time"
)

const (
	githubCopilotClientID     = "Iv1.b507a08c87ecfe98"
	githubDeviceCodeURL       = "https://github.com/login/device/code"
	githubAccessTokenURL      = "https://github.com/login/oauth/access_token"
	githubCopilotTokenURL     = "https://api.github.com/copilot_internal/v2/token"
	githubCopilotUserAgent    = "GitHubCopilotChat/0.35.0"
	githubDeviceGrantType     = "urn:ietf:params:oauth:grant-type:device_code"
	githubCopilotExpirySkewMs = 300_000
)

// GitHubCopilotProvider implements the GitHub Copilot device-code flow: a
// coarse GitHub OAuth token acquired via device code, then exchanged for a
// fine-grained, short-lived Copilot session token on every refresh.
type GitHubCopilotProvider struct{}

// NewGitHubCopilotProvider constructs the GitHub Copilot OAuth provider.
func NewGitHubCopilotProvider() *GitHubCopilotProvider { return &GitHubCopilotProvider{} }

func (p *GitHubCopilotProvider) ID() string          { return "github-copilot" }
func (p *GitHubCopilotProvider) DisplayName() string { return "GitHub Copilot (Device Flow)" }

func (p *GitHubCopilotProvider) Login(ctx context.Context, cb Callbacks) (Credentials, error) {
	var device struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		Interval        int64  `json:"interval"`
		ExpiresIn       int64  `json:"expires_in"`
	}
	err := postJSON(githubDeviceCodeURL, map[string]string{
		"client_id": githubCopilotClientID,
		"scope":     "read:user",
	}, map[string]string{"Accept": "application/json"}, &device)
	if err != nil {
		return Credentials{}, err
	}

	cb.OnAuth(AuthInfo{
		URL:          device.VerificationURI,
		Instructions: fmt.Sprintf("Enter code: %s", device.UserCode),
	})
	cb.OnProgress("Waiting for authorization in browser...")

	interval := time.Duration(device.Interval+1) * time.Second
	deadline := time.Now().Add(time.Duration(device.ExpiresIn) * time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		case <-ticker.C:
		}

		var tokenResp struct {
			AccessToken string `json:"access_token"`
			Error       string `json:"error"`
		}
		err := postJSON(githubAccessTokenURL, map[string]string{
			"client_id":   githubCopilotClientID,
			"device_code": device.DeviceCode,
			"grant_type":  githubDeviceGrantType,
		}, map[string]string{"Accept": "application/json"}, &tokenResp)
		if err != nil {
			return Credentials{}, err
		}

		if tokenResp.AccessToken != "" {
			cb.OnProgress("Exchanging GitHub token for Copilot token...")
			access, expiresAtSec, err := fetchCopilotToken(tokenResp.AccessToken)
			if err != nil {
				return Credentials{}, err
			}
			return Credentials{
				Refresh:   tokenResp.AccessToken, // the GitHub token itself acts as the refresh token
				Access:    access,
				ExpiresMs: expiresAtSec*1000 - githubCopilotExpirySkewMs,
			}, nil
		}

		if tokenResp.Error != "" && tokenResp.Error != "authorization_pending" && tokenResp.Error != "slow_down" {
			return Credentials{}, fmt.Errorf("oauth: github device flow error: %s", tokenResp.Error)
		}
	}

	return Credentials{}, fmt.Errorf("oauth: github device flow timed out")
}

func (p *GitHubCopilotProvider) Refresh(old Credentials) (Credentials, error) {
	access, expiresAtSec, err := fetchCopilotToken(old.Refresh)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		Refresh:   old.Refresh,
		Access:    access,
		ExpiresMs: expiresAtSec*1000 - githubCopilotExpirySkewMs,
	}, nil
}

func (p *GitHubCopilotProvider) Materialize(creds Credentials) string {
	return creds.Access
}

func fetchCopilotToken(githubToken string) (access string, expiresAtSec int64, err error) {
	var cp struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	headers := map[string]string{
		"Authorization": "Bearer " + githubToken,
		"User-Agent":    githubCopilotUserAgent,
	}
	if err := getJSON(githubCopilotTokenURL, headers, &cp); err != nil {
		return "", 0, err
	}
	return cp.Token, cp.ExpiresAt, nil
}
