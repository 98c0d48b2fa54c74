package store

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// envVarCandidates returns the provider-specific environment variable names
// to try, in order, before falling back to the generic ZEROAI_API_KEY/API_KEY
// pair.
func envVarCandidates(provider string) []string {
	switch provider {
	case "anthropic":
		return []string{"ANTHROPIC_API_KEY"}
	case "openrouter":
		return []string{"OPENROUTER_API_KEY"}
	case "openai":
		return []string{"OPENAI_API_KEY"}
	case "venice":
		return []string{"VENICE_API_KEY"}
	case "groq":
		return []string{"GROQ_API_KEY"}
	case "mistral":
		return []string{"MISTRAL_API_KEY"}
	case "deepseek":
		return []string{"DEEPSEEK_API_KEY"}
	case "xai", "grok":
		return []string{"XAI_API_KEY"}
	case "together", "together-ai":
		return []string{"TOGETHER_API_KEY"}
	case "fireworks", "fireworks-ai":
		return []string{"FIREWORKS_API_KEY"}
	case "perplexity":
		return []string{"PERPLEXITY_API_KEY"}
	case "cohere":
		return []string{"COHERE_API_KEY"}
	case "moonshot", "kimi":
		return []string{"MOONSHOT_API_KEY"}
	case "glm", "zhipu", "zhipuai":
		return []string{"GLM_API_KEY", "ZHIPUAI_API_KEY"}
	case "minimax":
		return []string{"MINIMAX_API_KEY"}
	case "qianfan", "baidu":
		return []string{"QIANFAN_API_KEY"}
	case "qwen", "dashscope", "qwen-intl", "dashscope-intl", "qwen-us", "dashscope-us":
		return []string{"DASHSCOPE_API_KEY"}
	case "zai", "z.ai":
		return []string{"ZAI_API_KEY"}
	case "nvidia", "nvidia-nim", "build.nvidia.com":
		return []string{"NVIDIA_API_KEY"}
	case "synthetic":
		return []string{"SYNTHETIC_API_KEY"}
	case "opencode", "opencode-zen":
		return []string{"OPENCODE_API_KEY"}
	case "vercel", "vercel-ai":
		return []string{"VERCEL_API_KEY"}
	case "cloudflare", "cloudflare-ai", "cloudflare-ai-gateway":
		return []string{"CLOUDFLARE_API_KEY"}
	case "google":
		return []string{"GEMINI_API_KEY"}
	case "huggingface":
		return []string{"HF_TOKEN"}
	case "siliconflow":
		return []string{"SILICONFLOW_API_KEY"}
	case "nebius":
		return []string{"NEBIUS_API_KEY"}
	case "github-copilot":
		return []string{"GITHUB_COPILOT_API_KEY"}
	case "amazon-bedrock":
		return []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"}
	default:
		return nil
	}
}

// genericEnvFallbacks are tried last, after every provider-specific candidate
// has come up empty.
var genericEnvFallbacks = []string{"ZEROAI_API_KEY", "API_KEY"}

// EnvAPIKey resolves provider's API key from the environment, trying
// provider-specific variables first and the generic fallbacks last.
func EnvAPIKey(provider string) (string, bool) {
	for _, name := range envVarCandidates(provider) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, true
		}
	}
	for _, name := range genericEnvFallbacks {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, true
		}
	}
	return "", false
}

type externalCredFileKind int

const (
	kindGeminiOAuth externalCredFileKind = iota
	kindGCloudADC
	kindAnthropicConfig
	kindOpenAIAuth
)

type externalCredFile struct {
	provider string
	path     func(home string) string
	kind     externalCredFileKind
}

var externalCredFiles = []externalCredFile{
	{provider: "gemini-cli", kind: kindGeminiOAuth, path: func(home string) string {
		return filepath.Join(home, ".gemini", "oauth_creds.json")
	}},
	{provider: "gemini-cli", kind: kindGCloudADC, path: func(home string) string {
		return filepath.Join(home, ".config", "gcloud", "application_default_credentials.json")
	}},
	{provider: "anthropic", kind: kindAnthropicConfig, path: func(home string) string {
		return filepath.Join(home, ".anthropic", "config.json")
	}},
	{provider: "openai", kind: kindOpenAIAuth, path: func(home string) string {
		return filepath.Join(home, ".openai", "auth.json")
	}},
}

// SniffExternalCredential looks for a credential file written by a foreign
// CLI tool for provider and parses it into a Credential. Each provider maps
// to exactly one file kind; the first existing, parseable match wins.
func SniffExternalCredential(provider string) (Credential, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	for _, f := range externalCredFiles {
		if f.provider != provider {
			continue
		}
		path := f.path(home)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if cred, ok := parseExternalCredFile(f.kind, data); ok {
			return cred, true
		}
	}
	return Credential{}, false
}

func parseExternalCredFile(kind externalCredFileKind, data []byte) (Credential, bool) {
	text := string(data)
	if !gjson.Valid(text) {
		return Credential{}, false
	}
	switch kind {
	case kindGeminiOAuth:
		refresh := gjson.Get(text, "refresh_token").String()
		if refresh == "" {
			return Credential{}, false
		}
		access := gjson.Get(text, "access_token").String()
		var expiresMs int64
		if expiry := gjson.Get(text, "expiry").String(); expiry != "" {
			if t, err := time.Parse(time.RFC3339, expiry); err == nil {
				expiresMs = t.UnixMilli()
			}
		}
		return NewOAuthCredential(refresh, access, expiresMs, nil), true

	case kindGCloudADC:
		refresh := gjson.Get(text, "refresh_token").String()
		if refresh == "" {
			return Credential{}, false
		}
		return NewOAuthCredential(refresh, "", 0, nil), true

	case kindAnthropicConfig:
		if key := gjson.Get(text, "api_key").String(); key != "" {
			return NewAPIKeyCredential(key), true
		}
		if token := gjson.Get(text, "oauth_token").String(); token != "" {
			return NewAPIKeyCredential(token), true
		}
		return Credential{}, false

	case kindOpenAIAuth:
		if key := gjson.Get(text, "api_key").String(); key != "" {
			return NewAPIKeyCredential(key), true
		}
		return Credential{}, false

	default:
		return Credential{}, false
	}
}
