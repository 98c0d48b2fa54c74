package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/zeroai/gateway/internal/chatmodel"
	"github.com/zeroai/gateway/internal/errs"
	"github.com/zeroai/gateway/internal/httputil"
)

const (
	cloudCodeDefaultEndpoint     = "https://cloudcode-pa.googleapis.com"
	cloudCodeAntigravityEndpoint = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	antigravityDefaultVersion    = "1.15.8"
	antigravitySystemPreamble    = "You are Antigravity, a powerful agentic AI coding assistant designed by the Google Deepmind team."
)

// CloudCodeProvider speaks the Cloud Code Assist internal wire format used
// by both gemini-cli (consumer OAuth) and antigravity (the Antigravity IDE
// flavor of the same backend). The two are distinct registrations of this
// one adapter type, selected by IsAntigravity.
type CloudCodeProvider struct {
	IsAntigravity bool
	client        *http.Client
}

func NewGeminiCLIProvider() *CloudCodeProvider {
	return &CloudCodeProvider{IsAntigravity: false, client: httputil.NewClient(5 * time.Minute)}
}

func NewAntigravityProvider() *CloudCodeProvider {
	return &CloudCodeProvider{IsAntigravity: true, client: httputil.NewClient(5 * time.Minute)}
}

func (p *CloudCodeProvider) ID() string {
	if p.IsAntigravity {
		return "antigravity"
	}
	return "gemini-cli"
}

func (p *CloudCodeProvider) headers() map[string]string {
	if p.IsAntigravity {
		version := os.Getenv("PI_AI_ANTIGRAVITY_VERSION")
		if version == "" {
			version = antigravityDefaultVersion
		}
		return map[string]string{
			"User-Agent":        fmt.Sprintf("antigravity/%s linux/x86_64", version),
			"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
			"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
		}
	}
	return map[string]string{
		"User-Agent":        "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"X-Goog-Api-Client": "gl-node/22.17.0",
		"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
	}
}

func (p *CloudCodeProvider) baseURL(model ModelDef) string {
	if model.BaseURL != "" {
		return strings.TrimRight(model.BaseURL, "/")
	}
	if p.IsAntigravity {
		return cloudCodeAntigravityEndpoint
	}
	return cloudCodeDefaultEndpoint
}

// parseCloudCodeCredential decodes the {"token","projectId"} envelope the
// credential store's Materialize produces for OAuth Cloud Code accounts.
func parseCloudCodeCredential(raw string) (accessToken, projectID string, err error) {
	var envelope struct {
		Token     string `json:"token"`
		ProjectID string `json:"projectId"`
	}
	if jsonErr := json.Unmarshal([]byte(raw), &envelope); jsonErr != nil {
		return "", "", errs.AuthRequired("invalid Cloud Code Assist credentials: expected JSON {token, projectId}")
	}
	if envelope.Token == "" || envelope.ProjectID == "" {
		return "", "", errs.AuthRequired("missing token or projectId in Cloud Code credentials")
	}
	return envelope.Token, envelope.ProjectID, nil
}

type ccRequest struct {
	Project     string  `json:"project"`
	Model       string  `json:"model"`
	Request     ccInner `json:"request"`
	RequestType *string `json:"requestType,omitempty"`
	UserAgent   *string `json:"userAgent,omitempty"`
	RequestID   *string `json:"requestId,omitempty"`
}

type ccInner struct {
	Contents          []ggContent          `json:"contents"`
	SessionID         *string              `json:"sessionId,omitempty"`
	SystemInstruction *ccSystemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  *ccGenerationConfig  `json:"generationConfig,omitempty"`
	Tools             []ggToolDeclaration  `json:"tools,omitempty"`
}

type ccSystemInstruction struct {
	Role  *string  `json:"role,omitempty"`
	Parts []ggPart `json:"parts"`
}

type ccGenerationConfig struct {
	Temperature     *float64       `json:"temperature,omitempty"`
	MaxOutputTokens *int64         `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *ccThinkingCfg `json:"thinkingConfig,omitempty"`
}

type ccThinkingCfg struct {
	IncludeThoughts bool    `json:"includeThoughts"`
	ThinkingBudget  *int64  `json:"thinkingBudget,omitempty"`
	ThinkingLevel   *string `json:"thinkingLevel,omitempty"`
}

type ccChunkEnvelope struct {
	Response *ccResponseData `json:"response"`
}

type ccResponseData struct {
	Candidates    []ggCandidate `json:"candidates"`
	UsageMetadata *ggUsageMeta  `json:"usageMetadata"`
}

func isGemini3(modelID string) bool {
	return strings.Contains(modelID, "3-pro") || strings.Contains(modelID, "3-flash")
}

func (p *CloudCodeProvider) buildGenerationConfig(model ModelDef, opts chatmodel.RequestOptions) *ccGenerationConfig {
	cfg := &ccGenerationConfig{Temperature: opts.Temperature, MaxOutputTokens: opts.MaxTokens}
	if model.Reasoning && opts.Reasoning != "" {
		if isGemini3(model.ID) {
			level := strings.ToUpper(string(opts.Reasoning))
			cfg.ThinkingConfig = &ccThinkingCfg{IncludeThoughts: true, ThinkingLevel: &level}
		} else {
			budget := thinkingBudgetFor(opts.Reasoning)
			cfg.ThinkingConfig = &ccThinkingCfg{IncludeThoughts: true, ThinkingBudget: &budget}
		}
	}
	return cfg
}

func (p *CloudCodeProvider) buildRequest(model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions, projectID string) ccRequest {
	var sysParts []ggPart
	if p.IsAntigravity {
		t := antigravitySystemPreamble
		sysParts = append(sysParts, ggPart{Text: &t})
	}
	if req.SystemPrompt != "" {
		t := req.SystemPrompt
		sysParts = append(sysParts, ggPart{Text: &t})
	}
	var sysInstruction *ccSystemInstruction
	if len(sysParts) > 0 {
		sysInstruction = &ccSystemInstruction{Parts: sysParts}
		if p.IsAntigravity {
			role := "user"
			sysInstruction.Role = &role
		}
	}

	return ccRequest{
		Project: projectID,
		Model:   model.ID,
		Request: ccInner{
			Contents:          convertMessagesGoogle(req),
			SystemInstruction: sysInstruction,
			GenerationConfig:  p.buildGenerationConfig(model, opts),
			Tools:             convertToolsGoogle(req.Tools),
		},
	}
}

func (p *CloudCodeProvider) Stream(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (<-chan chatmodel.StreamEvent, <-chan error) {
	events := make(chan chatmodel.StreamEvent)
	errc := make(chan error, 1)

	if opts.APIKey == "" {
		go func() {
			defer close(events)
			defer close(errc)
			errc <- errs.AuthRequired("OAuth credentials required for Cloud Code Assist")
		}()
		return events, errc
	}
	accessToken, projectID, err := parseCloudCodeCredential(opts.APIKey)
	if err != nil {
		go func() {
			defer close(events)
			defer close(errc)
			errc <- err
		}()
		return events, errc
	}

	url := p.baseURL(model) + "/v1internal:streamGenerateContent?alt=sse"
	body := p.buildRequest(model, req, opts, projectID)
	headers := p.headers()

	go func() {
		defer close(events)
		defer close(errc)

		payload, err := json.Marshal(body)
		if err != nil {
			errc <- errs.Parse(err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			errc <- errs.Network(err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			errc <- errs.Network(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			errc <- readUpstreamError(resp, b)
			return
		}

		events <- chatmodel.StreamEvent{Kind: chatmodel.EventStart}

		var textBuf, thinkingBuf strings.Builder
		var toolCalls []chatmodel.ContentBlock
		var usage chatmodel.Usage
		stop := chatmodel.StopReasonStop

		scanErr := sseLines(resp.Body, func(data []byte) bool {
			var envelope ccChunkEnvelope
			if err := json.Unmarshal(data, &envelope); err != nil || envelope.Response == nil {
				return true
			}
			chunk := envelope.Response
			if chunk.UsageMetadata != nil {
				prompt := derefI64(chunk.UsageMetadata.PromptTokenCount)
				cached := derefI64(chunk.UsageMetadata.CachedContentTokenCount)
				usage.InputTokens = prompt - cached
				if usage.InputTokens < 0 {
					usage.InputTokens = 0
				}
				usage.CacheReadTokens = cached
				usage.OutputTokens = derefI64(chunk.UsageMetadata.CandidatesTokenCount) + derefI64(chunk.UsageMetadata.ThoughtsTokenCount)
				usage.TotalTokens = derefI64(chunk.UsageMetadata.TotalTokenCount)
			}
			for _, cand := range chunk.Candidates {
				if cand.FinishReason != nil {
					stop = mapGoogleStop(*cand.FinishReason)
				}
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text != nil {
						if part.Thought != nil && *part.Thought {
							thinkingBuf.WriteString(*part.Text)
							events <- chatmodel.StreamEvent{Kind: chatmodel.EventThinkingDelta, ThinkingDelta: *part.Text}
						} else {
							textBuf.WriteString(*part.Text)
							events <- chatmodel.StreamEvent{Kind: chatmodel.EventTextDelta, TextDelta: *part.Text}
						}
					}
					if part.FunctionCall != nil {
						counter := googleToolCallCounter.Add(1)
						id := fmt.Sprintf("%s_%d", part.FunctionCall.Name, counter)
						args := part.FunctionCall.Args
						if len(args) == 0 {
							args = json.RawMessage("{}")
						}
						idx := len(toolCalls)
						block := chatmodel.ToolCallBlock(id, part.FunctionCall.Name, args)
						toolCalls = append(toolCalls, block)
						events <- chatmodel.StreamEvent{Kind: chatmodel.EventToolCallStart, ToolCallIndex: idx, ToolCallID: id, ToolCallName: part.FunctionCall.Name}
						events <- chatmodel.StreamEvent{Kind: chatmodel.EventToolCallDelta, ToolCallIndex: idx, ArgsDelta: string(args)}
						events <- chatmodel.StreamEvent{Kind: chatmodel.EventToolCallEnd, ToolCallIndex: idx, ToolCall: &block}
					}
				}
			}
			return true
		})
		if scanErr != nil {
			errc <- errs.Network(scanErr)
			return
		}

		if len(toolCalls) > 0 {
			stop = chatmodel.StopReasonToolUse
		}

		content := make([]chatmodel.ContentBlock, 0, len(toolCalls)+2)
		if thinkingBuf.Len() > 0 {
			content = append(content, chatmodel.ThinkingBlock(thinkingBuf.String(), ""))
		}
		if textBuf.Len() > 0 {
			content = append(content, chatmodel.TextBlock(textBuf.String()))
		}
		content = append(content, toolCalls...)

		events <- chatmodel.StreamEvent{Kind: chatmodel.EventDone, Message: &chatmodel.AssistantMessage{
			Content:    content,
			Model:      model.ID,
			Provider:   model.Provider,
			Usage:      &usage,
			StopReason: stop,
		}}
	}()

	return events, errc
}

func (p *CloudCodeProvider) Chat(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (*chatmodel.AssistantMessage, error) {
	return ChatViaStream(ctx, p, model, req, opts)
}

func (p *CloudCodeProvider) ListModels(ctx context.Context, apiKey string) ([]ModelDef, error) {
	return StaticGeminiModels(p.IsAntigravity), nil
}

// StaticGeminiModels is the fixed catalog entry shared by gemini-cli and
// antigravity: the Cloud Code Assist backend does not expose a models-list
// endpoint, so both register the same static lineup under their own
// provider id and default base URL.
func StaticGeminiModels(antigravity bool) []ModelDef {
	provider := "gemini-cli"
	base := cloudCodeDefaultEndpoint
	if antigravity {
		provider = "antigravity"
		base = cloudCodeAntigravityEndpoint
	}
	mk := func(id, name string, reasoning bool, ctxWindow, maxTokens int64) ModelDef {
		return ModelDef{
			ID: id, Name: name, Provider: provider, BaseURL: base,
			Reasoning: reasoning, InputModality: []string{"text", "image"},
			ContextWindow: ctxWindow, MaxTokens: maxTokens,
		}
	}
	return []ModelDef{
		mk("gemini-3-pro-preview", "Gemini 3 Pro Preview", true, 1_048_576, 65_536),
		mk("gemini-3-flash-preview", "Gemini 3 Flash Preview", true, 1_048_576, 65_536),
		mk("gemini-2.5-pro", "Gemini 2.5 Pro", true, 1_048_576, 65_536),
		mk("gemini-2.5-flash", "Gemini 2.5 Flash", true, 1_048_576, 65_536),
	}
}
