package provider

import (
	"strings"
	"sync"
)

// Registry maps every provider id the gateway recognizes to the adapter
// instance that serves it. Each OpenAI-compatible vendor gets its own
// OpenAICompatProvider bound to that vendor's base URL (overridable per call
// by the model's own BaseURL), while Anthropic-shaped resellers share one
// AnthropicProvider, which already resolves its endpoint from the model.
// User-declared "custom:<baseURL>" ids are constructed lazily on first Get.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
}

// openAICompatBaseURLs is the built-in base URL for every provider id that
// speaks the OpenAI-compatible wire format, matching the per-provider
// BaseURL already carried on that provider's entries in the static model
// table. Each id gets its own adapter instance below: sharing one instance
// across ids would pin every one of them to whichever URL came first.
var openAICompatBaseURLs = map[string]string{
	"openai":         "https://api.openai.com/v1",
	"deepseek":       "https://api.deepseek.com/v1",
	"xai":            "https://api.x.ai/v1",
	"groq":           "https://api.groq.com/openai/v1",
	"together":       "https://api.together.xyz/v1",
	"siliconflow":    "https://api.siliconflow.cn/v1",
	"zhipuai":        "https://open.bigmodel.cn/api/paas/v4",
	"fireworks":      "https://api.fireworks.ai/inference/v1",
	"nebius":         "https://api.studio.nebius.com/v1",
	"openrouter":     "https://openrouter.ai/api/v1",
	"minimax":        "https://api.minimax.chat/v1",
	"moonshot":       "https://api.moonshot.cn/v1",
	"qianfan":        "https://qianfan.baidubce.com/v2",
	"ollama":         "http://localhost:11434/v1",
	"vllm":           "http://localhost:8000/v1",
	"huggingface":    "https://api-inference.huggingface.co/v1",
	"amazon-bedrock": "https://bedrock-runtime.us-east-1.amazonaws.com",
	"openai-codex":   "https://chatgpt.com/backend-api/codex",
	"venice":         "https://api.venice.ai/api/v1",
	"mistral":        "https://api.mistral.ai/v1",
	"cohere":         "https://api.cohere.ai/compatibility/v1",
	"glm":            "https://open.bigmodel.cn/api/paas/v4",
	"qwen":           "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"dashscope":      "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"zai":            "https://api.z.ai/api/paas/v4",
	"nvidia":         "https://integrate.api.nvidia.com/v1",
	"opencode":       "https://opencode.ai/zen/v1",
	"vercel":         "https://ai-gateway.vercel.sh/v1",
	"cloudflare":     "https://api.cloudflare.com/client/v4/ai/v1",
	"perplexity":     "https://api.perplexity.ai",
}

// NewRegistry builds the full provider-id alias table, grounded on the
// reference client's builder: one adapter instance per provider id, each
// bound to that provider's own base URL.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}

	for id, baseURL := range openAICompatBaseURLs {
		r.providers[id] = NewOpenAICompatProvider(id, baseURL, "", AuthBearer)
	}
	if p, ok := r.providers["ollama"].(*OpenAICompatProvider); ok {
		p.ModelsURL = "http://localhost:11434/api/tags"
	}

	githubCopilot := NewOpenAICompatProvider("github-copilot", "https://api.githubcopilot.com", "", AuthBearer)
	r.providers["github-copilot"] = githubCopilot

	anthropic := NewAnthropicProvider()
	for _, id := range []string{"anthropic", "xiaomi", "synthetic", "cloudflare-ai-gateway"} {
		r.providers[id] = anthropic
	}

	r.providers["google"] = NewGoogleGenAIProvider()
	r.providers["gemini-cli"] = NewGeminiCLIProvider()
	r.providers["antigravity"] = NewAntigravityProvider()

	return r
}

// Get returns the adapter registered for a provider id. A "custom:<baseURL>"
// id not yet registered is built on demand as an OpenAI-compatible adapter
// bound to that URL. Unknown non-custom ids return nil.
func (r *Registry) Get(providerID string) Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[providerID]; ok {
		return p
	}
	if baseURL, ok := strings.CutPrefix(providerID, "custom:"); ok && baseURL != "" {
		p := NewCustomProvider(providerID, baseURL)
		r.providers[providerID] = p
		return p
	}
	return nil
}

// RegisterCustom adds or replaces the adapter bound to a user-defined
// `custom:<baseURL>` provider id, used by the model catalog for
// OpenAI-compatible endpoints the user configured by URL rather than by
// a known provider name.
func (r *Registry) RegisterCustom(providerID string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[providerID] = p
}

// Has reports whether a provider id is registered.
func (r *Registry) Has(providerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.providers[providerID]
	return ok
}
