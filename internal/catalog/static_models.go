package catalog

import "github.com/zeroai/gateway/internal/provider"

// StaticModelTable is the build-time seed of known models across every
// supported provider. Dynamic-listing providers use these entries as
// fallback metadata (context window, max tokens, reasoning flag) when a
// live fetch returns an id the table doesn't carry detail for; static-only
// providers serve this table verbatim with no live fetch at all.
func StaticModelTable() []provider.ModelDef {
	defs := make([]provider.ModelDef, 0, 64)
	defs = append(defs, provider.StaticAnthropicModels()...)
	defs = append(defs, provider.StaticGeminiModels(false)...)
	defs = append(defs, provider.StaticGeminiModels(true)...)
	defs = append(defs, googleStaticModels()...)
	defs = append(defs, openaiStaticModels()...)
	defs = append(defs, deepseekStaticModels()...)
	defs = append(defs, xaiStaticModels()...)
	defs = append(defs, groqStaticModels()...)
	defs = append(defs, qwenStaticModels()...)
	defs = append(defs, moonshotStaticModels()...)
	defs = append(defs, zhipuaiStaticModels()...)
	defs = append(defs, mistralStaticModels()...)
	defs = append(defs, cohereStaticModels()...)
	defs = append(defs, githubCopilotStaticModels()...)
	defs = append(defs, amazonBedrockStaticModels()...)
	defs = append(defs, openaiCodexStaticModels()...)
	defs = append(defs, syntheticStaticModels()...)
	defs = append(defs, cloudflareAIGatewayStaticModels()...)
	return defs
}

func googleStaticModels() []provider.ModelDef {
	const base = "https://generativelanguage.googleapis.com/v1beta"
	return []provider.ModelDef{
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Provider: "google", BaseURL: base, Reasoning: true, ContextWindow: 1_048_576, MaxTokens: 65_536},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: "google", BaseURL: base, Reasoning: true, ContextWindow: 1_048_576, MaxTokens: 65_536},
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: "google", BaseURL: base, ContextWindow: 1_048_576, MaxTokens: 8_192},
	}
}

func openaiStaticModels() []provider.ModelDef {
	const base = "https://api.openai.com/v1"
	return []provider.ModelDef{
		{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai", BaseURL: base, ContextWindow: 128_000, MaxTokens: 16_384},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai", BaseURL: base, ContextWindow: 128_000, MaxTokens: 16_384},
		{ID: "o3", Name: "o3", Provider: "openai", BaseURL: base, Reasoning: true, ContextWindow: 200_000, MaxTokens: 100_000},
		{ID: "o3-mini", Name: "o3-mini", Provider: "openai", BaseURL: base, Reasoning: true, ContextWindow: 200_000, MaxTokens: 100_000},
		{ID: "o1", Name: "o1", Provider: "openai", BaseURL: base, Reasoning: true, ContextWindow: 200_000, MaxTokens: 100_000},
	}
}

func deepseekStaticModels() []provider.ModelDef {
	const base = "https://api.deepseek.com/v1"
	return []provider.ModelDef{
		{ID: "deepseek-chat", Name: "DeepSeek Chat", Provider: "deepseek", BaseURL: base, ContextWindow: 64_000, MaxTokens: 8_192},
		{ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", Provider: "deepseek", BaseURL: base, Reasoning: true, ContextWindow: 64_000, MaxTokens: 8_192},
	}
}

func xaiStaticModels() []provider.ModelDef {
	const base = "https://api.x.ai/v1"
	return []provider.ModelDef{
		{ID: "grok-4", Name: "Grok 4", Provider: "xai", BaseURL: base, Reasoning: true, ContextWindow: 256_000, MaxTokens: 32_768},
		{ID: "grok-3", Name: "Grok 3", Provider: "xai", BaseURL: base, ContextWindow: 131_072, MaxTokens: 16_384},
	}
}

func groqStaticModels() []provider.ModelDef {
	const base = "https://api.groq.com/openai/v1"
	return []provider.ModelDef{
		{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile", Provider: "groq", BaseURL: base, ContextWindow: 128_000, MaxTokens: 32_768},
		{ID: "deepseek-r1-distill-llama-70b", Name: "DeepSeek R1 Distill Llama 70B", Provider: "groq", BaseURL: base, Reasoning: true, ContextWindow: 128_000, MaxTokens: 16_384},
	}
}

func qwenStaticModels() []provider.ModelDef {
	const base = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	return []provider.ModelDef{
		{ID: "qwen-max", Name: "Qwen Max", Provider: "qwen", BaseURL: base, ContextWindow: 32_768, MaxTokens: 8_192},
		{ID: "qwen3-235b-a22b", Name: "Qwen3 235B A22B", Provider: "qwen", BaseURL: base, Reasoning: true, ContextWindow: 131_072, MaxTokens: 16_384},
	}
}

func moonshotStaticModels() []provider.ModelDef {
	const base = "https://api.moonshot.cn/v1"
	return []provider.ModelDef{
		{ID: "moonshot-v1-128k", Name: "Moonshot v1 128k", Provider: "moonshot", BaseURL: base, ContextWindow: 128_000, MaxTokens: 16_384},
		{ID: "kimi-k2", Name: "Kimi K2", Provider: "moonshot", BaseURL: base, Reasoning: true, ContextWindow: 128_000, MaxTokens: 16_384},
	}
}

func zhipuaiStaticModels() []provider.ModelDef {
	const base = "https://open.bigmodel.cn/api/paas/v4"
	return []provider.ModelDef{
		{ID: "glm-4.6", Name: "GLM-4.6", Provider: "zhipuai", BaseURL: base, Reasoning: true, ContextWindow: 128_000, MaxTokens: 16_384},
		{ID: "glm-4-flash", Name: "GLM-4 Flash", Provider: "zhipuai", BaseURL: base, ContextWindow: 128_000, MaxTokens: 8_192},
	}
}

func mistralStaticModels() []provider.ModelDef {
	const base = "https://api.mistral.ai/v1"
	return []provider.ModelDef{
		{ID: "mistral-large-latest", Name: "Mistral Large", Provider: "mistral", BaseURL: base, ContextWindow: 128_000, MaxTokens: 16_384},
		{ID: "codestral-latest", Name: "Codestral", Provider: "mistral", BaseURL: base, ContextWindow: 32_768, MaxTokens: 8_192},
	}
}

func cohereStaticModels() []provider.ModelDef {
	const base = "https://api.cohere.ai/compatibility/v1"
	return []provider.ModelDef{
		{ID: "command-r-plus", Name: "Command R+", Provider: "cohere", BaseURL: base, ContextWindow: 128_000, MaxTokens: 4_096},
	}
}

func githubCopilotStaticModels() []provider.ModelDef {
	const base = "https://api.githubcopilot.com"
	return []provider.ModelDef{
		{ID: "gpt-4o", Name: "GPT-4o (Copilot)", Provider: "github-copilot", BaseURL: base, ContextWindow: 128_000, MaxTokens: 16_384},
		{ID: "claude-3.5-sonnet", Name: "Claude 3.5 Sonnet (Copilot)", Provider: "github-copilot", BaseURL: base, ContextWindow: 200_000, MaxTokens: 8_192},
	}
}

func amazonBedrockStaticModels() []provider.ModelDef {
	const base = "https://bedrock-runtime.us-east-1.amazonaws.com"
	return []provider.ModelDef{
		{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Name: "Claude 3.5 Sonnet (Bedrock)", Provider: "amazon-bedrock", BaseURL: base, ContextWindow: 200_000, MaxTokens: 8_192},
	}
}

func openaiCodexStaticModels() []provider.ModelDef {
	const base = "https://chatgpt.com/backend-api/codex"
	return []provider.ModelDef{
		{ID: "gpt-5-codex", Name: "GPT-5 Codex", Provider: "openai-codex", BaseURL: base, Reasoning: true, ContextWindow: 256_000, MaxTokens: 32_768},
	}
}

func syntheticStaticModels() []provider.ModelDef {
	const base = "https://api.synthetic.new/v1"
	return []provider.ModelDef{
		{ID: "claude-opus-4-1", Name: "Claude Opus 4.1 (Synthetic)", Provider: "synthetic", BaseURL: base, ContextWindow: 200_000, MaxTokens: 8_192},
	}
}

func cloudflareAIGatewayStaticModels() []provider.ModelDef {
	return []provider.ModelDef{
		{ID: "claude-sonnet-4-5-20250929", Name: "Claude Sonnet 4.5 (Cloudflare Gateway)", Provider: "cloudflare-ai-gateway", ContextWindow: 200_000, MaxTokens: 8_192},
	}
}
