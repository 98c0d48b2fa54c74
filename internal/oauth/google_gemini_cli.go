package oauth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/zeroai/gateway/internal/httputil"
)

// Client id/secret for the gemini-cli Cloud Code Assist OAuth app,
// hex-encoded at build time.
const (
	geminiCLIClientIDHex     = "3638313235353830393339352d6f6f386674326f707264726e7039653361716636617633686d6469623133356a2e617070732e676f6f676c6575736572636f6e74656e742e636f6d"
	geminiCLIClientSecretHex = "474f435350582d347548674d506d2d316f37536b2d67655636437535636c584673786c"
)

func hexDecodeString(h string) string {
	b, err := hex.DecodeString(h)
	if err != nil {
		return ""
	}
	return string(b)
}

const (
	geminiCLIRedirectURI      = "https://codeassist.google.com/authcode"
	geminiCLIAuthURL          = "https://accounts.google.com/o/oauth2/v2/auth"
	geminiCLITokenURL         = "https://oauth2.googleapis.com/token"
	codeAssistEndpoint        = "https://cloudcode-pa.googleapis.com"
	geminiCLIOnboardTierID    = "free-tier"
	geminiCLIDefaultIDEType   = "IDE_UNSPECIFIED"
	geminiCLIDefaultPlatform  = "PLATFORM_UNSPECIFIED"
	geminiCLIDefaultPluginID  = "GEMINI"
	googleCloudProjectEnvName = "GOOGLE_CLOUD_PROJECT"
)

var geminiCLIScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// GeminiCLIProvider implements the gemini-cli Cloud Code Assist OAuth flow:
// authorization-code + PKCE with a paste-back code, followed by project
// discovery (loadCodeAssist, falling back to onboardUser).
type GeminiCLIProvider struct{}

// NewGeminiCLIProvider constructs the gemini-cli OAuth provider.
func NewGeminiCLIProvider() *GeminiCLIProvider { return &GeminiCLIProvider{} }

func (p *GeminiCLIProvider) ID() string { return "gemini-cli" }
func (p *GeminiCLIProvider) DisplayName() string {
	return "Google Cloud Code Assist (Gemini CLI)"
}

func (p *GeminiCLIProvider) Login(ctx context.Context, cb Callbacks) (Credentials, error) {
	clientID := hexDecodeString(geminiCLIClientIDHex)
	pkce, err := GeneratePKCE()
	if err != nil {
		return Credentials{}, err
	}

	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", geminiCLIRedirectURI)
	q.Set("scope", strings.Join(geminiCLIScopes, " "))
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	authURL := geminiCLIAuthURL + "?" + q.Encode()

	cb.OnAuth(AuthInfo{
		URL:          authURL,
		Instructions: "Authorization page opened in your browser. If not, visit the URL below. Paste the code from the success page into the input box.",
	})

	code, err := cb.OnPrompt(ctx, Prompt{Message: "Enter authorization code:"})
	if err != nil {
		return Credentials{}, fmt.Errorf("oauth: gemini-cli login cancelled: %w", err)
	}

	cb.OnProgress("Exchanging code for tokens...")

	clientSecret := hexDecodeString(geminiCLIClientSecretHex)
	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {geminiCLIRedirectURI},
		"code_verifier": {pkce.Verifier},
	}
	if err := postForm(geminiCLITokenURL, form, &tok); err != nil {
		return Credentials{}, err
	}
	if tok.RefreshToken == "" {
		return Credentials{}, fmt.Errorf("oauth: gemini-cli token exchange returned no refresh token")
	}

	cb.OnProgress("Discovering project...")
	projectID, err := discoverCloudCodeProject(tok.AccessToken, codeAssistEndpoint, cb)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{
		Refresh:   tok.RefreshToken,
		Access:    tok.AccessToken,
		ExpiresMs: expiresWithSafetyMargin(nowMs(), tok.ExpiresIn),
		Extra:     map[string]interface{}{"projectId": projectID},
	}, nil
}

func (p *GeminiCLIProvider) Refresh(old Credentials) (Credentials, error) {
	projectID, _ := old.Extra["projectId"].(string)
	if projectID == "" {
		return Credentials{}, fmt.Errorf("oauth: gemini-cli refresh missing projectId")
	}

	tok, err := refreshGoogleToken(old)
	if err != nil {
		return Credentials{}, err
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = old.Refresh
	}
	return Credentials{
		Refresh:   refresh,
		Access:    tok.AccessToken,
		ExpiresMs: tok.Expiry.UnixMilli() - 5*60*1000,
		Extra:     map[string]interface{}{"projectId": projectID},
	}, nil
}

// googleOAuthConfig returns the oauth2.Config shared by the gemini-cli and
// antigravity Cloud Code Assist refresh exchanges: both use Google's token
// endpoint, differing only in client id/secret.
func googleOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: geminiCLIAuthURL, TokenURL: geminiCLITokenURL},
	}
}

// refreshGoogleToken exchanges old.Refresh for a new token via
// oauth2.Config.TokenSource, routed through the shared proxy-aware HTTP
// client so refreshes honor the same outbound proxy as every other call.
func refreshGoogleToken(old Credentials) (*oauth2.Token, error) {
	clientID := hexDecodeString(geminiCLIClientIDHex)
	clientSecret := hexDecodeString(geminiCLIClientSecretHex)
	conf := googleOAuthConfig(clientID, clientSecret)

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClientForOAuth2())
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: old.Refresh})
	return src.Token()
}

func httpClientForOAuth2() *http.Client {
	return httputil.NewClient(30 * time.Second)
}

func (p *GeminiCLIProvider) Materialize(creds Credentials) string {
	return materializeCloudCodeToken(creds)
}

func materializeCloudCodeToken(creds Credentials) string {
	projectID, _ := creds.Extra["projectId"].(string)
	envelope := map[string]string{"token": creds.Access, "projectId": projectID}
	data, err := json.Marshal(envelope)
	if err != nil {
		return creds.Access
	}
	return string(data)
}

// discoverCloudCodeProject resolves the Cloud Code Assist project id for a
// freshly-authorized access token: an explicit GOOGLE_CLOUD_PROJECT override
// wins; otherwise loadCodeAssist is tried, falling back to onboardUser
// (free-tier) when the account has no project yet.
func discoverCloudCodeProject(accessToken, endpoint string, cb Callbacks) (string, error) {
	if v := strings.TrimSpace(os.Getenv(googleCloudProjectEnvName)); v != "" {
		return v, nil
	}

	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	metadata := map[string]interface{}{
		"metadata": map[string]string{
			"ideType":    geminiCLIDefaultIDEType,
			"platform":   geminiCLIDefaultPlatform,
			"pluginType": geminiCLIDefaultPluginID,
		},
	}

	var load struct {
		CloudaicompanionProject string `json:"cloudaicompanionProject"`
	}
	if err := postJSON(endpoint+"/v1internal:loadCodeAssist", metadata, headers, &load); err == nil {
		if load.CloudaicompanionProject != "" {
			return load.CloudaicompanionProject, nil
		}
	}

	cb.OnProgress("Provisioning project...")
	onboardBody := map[string]interface{}{
		"tierId": geminiCLIOnboardTierID,
		"metadata": map[string]string{
			"ideType":    geminiCLIDefaultIDEType,
			"platform":   geminiCLIDefaultPlatform,
			"pluginType": geminiCLIDefaultPluginID,
		},
	}
	var onboard struct {
		Response struct {
			CloudaicompanionProject struct {
				ID string `json:"id"`
			} `json:"cloudaicompanionProject"`
		} `json:"response"`
	}
	if err := postJSON(endpoint+"/v1internal:onboardUser", onboardBody, headers, &onboard); err != nil {
		return "", fmt.Errorf("oauth: project discovery failed: %w", err)
	}
	if onboard.Response.CloudaicompanionProject.ID == "" {
		return "", fmt.Errorf("oauth: project discovery failed: no project returned")
	}
	return onboard.Response.CloudaicompanionProject.ID, nil
}
