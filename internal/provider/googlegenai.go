package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zeroai/gateway/internal/chatmodel"
	"github.com/zeroai/gateway/internal/errs"
	"github.com/zeroai/gateway/internal/httputil"
)

// GoogleGenAIProvider speaks the Google Generative AI (API key) wire
// format: generateContent / streamGenerateContent against
// generativelanguage.googleapis.com.
type GoogleGenAIProvider struct {
	client *http.Client
}

func NewGoogleGenAIProvider() *GoogleGenAIProvider {
	return &GoogleGenAIProvider{client: httputil.NewClient(5 * time.Minute)}
}

func (p *GoogleGenAIProvider) ID() string { return "google" }

const googleGenAIDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var googleToolCallCounter atomic.Uint64

type ggContent struct {
	Role  string   `json:"role"`
	Parts []ggPart `json:"parts"`
}

type ggPart struct {
	Text             *string         `json:"text,omitempty"`
	FunctionCall     *ggFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *ggFunctionResp `json:"functionResponse,omitempty"`
	InlineData       *ggInlineData   `json:"inlineData,omitempty"`
}

type ggFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type ggFunctionResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type ggInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type ggSystemInstruction struct {
	Parts []ggPart `json:"parts"`
}

type ggGenerationConfig struct {
	Temperature     *float64       `json:"temperature,omitempty"`
	MaxOutputTokens *int64         `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *ggThinkingCfg `json:"thinkingConfig,omitempty"`
}

type ggThinkingCfg struct {
	IncludeThoughts bool    `json:"includeThoughts"`
	ThinkingBudget  *int64  `json:"thinkingBudget,omitempty"`
	ThinkingLevel   *string `json:"thinkingLevel,omitempty"`
}

type ggToolDeclaration struct {
	FunctionDeclarations []ggFunctionDeclaration `json:"functionDeclarations"`
}

type ggFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ggGenerateContentRequest struct {
	Contents          []ggContent          `json:"contents"`
	SystemInstruction *ggSystemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  *ggGenerationConfig  `json:"generationConfig,omitempty"`
	Tools             []ggToolDeclaration  `json:"tools,omitempty"`
}

type ggStreamChunk struct {
	Candidates    []ggCandidate `json:"candidates"`
	UsageMetadata *ggUsageMeta  `json:"usageMetadata"`
}

type ggCandidate struct {
	Content      *ggCandidateContent `json:"content"`
	FinishReason *string             `json:"finishReason"`
}

type ggCandidateContent struct {
	Parts []ggResponsePart `json:"parts"`
}

type ggResponsePart struct {
	Text         *string             `json:"text"`
	Thought      *bool               `json:"thought"`
	FunctionCall *ggFunctionCallResp `json:"functionCall"`
}

type ggFunctionCallResp struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type ggUsageMeta struct {
	PromptTokenCount        *int64 `json:"promptTokenCount"`
	CandidatesTokenCount    *int64 `json:"candidatesTokenCount"`
	ThoughtsTokenCount      *int64 `json:"thoughtsTokenCount"`
	TotalTokenCount         *int64 `json:"totalTokenCount"`
	CachedContentTokenCount *int64 `json:"cachedContentTokenCount"`
}

type ggModelsListResponse struct {
	Models []ggModelInfo `json:"models"`
}

type ggModelInfo struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	InputTokenLimit            int64    `json:"inputTokenLimit"`
	OutputTokenLimit           int64    `json:"outputTokenLimit"`
}

func convertMessagesGoogle(req chatmodel.ChatRequest) []ggContent {
	contents := make([]ggContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case chatmodel.RoleUser:
			var parts []ggPart
			for _, b := range m.Content {
				switch b.Kind {
				case chatmodel.BlockText:
					t := b.Text
					parts = append(parts, ggPart{Text: &t})
				case chatmodel.BlockImage:
					parts = append(parts, ggPart{InlineData: &ggInlineData{MimeType: b.ImageMimeType, Data: b.ImageBase64}})
				}
			}
			contents = append(contents, ggContent{Role: "user", Parts: parts})
		case chatmodel.RoleAssistant:
			var parts []ggPart
			for _, b := range m.Content {
				switch b.Kind {
				case chatmodel.BlockText:
					t := b.Text
					parts = append(parts, ggPart{Text: &t})
				case chatmodel.BlockToolCall:
					parts = append(parts, ggPart{FunctionCall: &ggFunctionCall{Name: b.ToolCallName, Args: b.ToolCallArgs}})
				}
			}
			contents = append(contents, ggContent{Role: "model", Parts: parts})
		case chatmodel.RoleToolResult:
			resp, _ := json.Marshal(map[string]string{"result": toolResultText(m.Content)})
			contents = append(contents, ggContent{Role: "user", Parts: []ggPart{{
				FunctionResponse: &ggFunctionResp{Name: m.ToolName, Response: resp},
			}}})
		}
	}
	return contents
}

func convertToolsGoogle(tools []chatmodel.ToolDef) []ggToolDeclaration {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]ggFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, ggFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return []ggToolDeclaration{{FunctionDeclarations: decls}}
}

func thinkingBudgetFor(level chatmodel.ReasoningLevel) int64 {
	switch level {
	case chatmodel.ReasoningMinimal:
		return 1024
	case chatmodel.ReasoningLow:
		return 2048
	case chatmodel.ReasoningHigh:
		return 16384
	default:
		return 8192
	}
}

func (p *GoogleGenAIProvider) buildGenerationConfig(model ModelDef, opts chatmodel.RequestOptions) *ggGenerationConfig {
	cfg := &ggGenerationConfig{Temperature: opts.Temperature, MaxOutputTokens: opts.MaxTokens}
	if model.Reasoning && opts.Reasoning != "" {
		// gemini-3-* models take a string thinking level; every other
		// reasoning-capable model takes an integer token budget.
		if isGemini3(model.ID) {
			level := strings.ToUpper(string(opts.Reasoning))
			cfg.ThinkingConfig = &ggThinkingCfg{IncludeThoughts: true, ThinkingLevel: &level}
		} else {
			budget := thinkingBudgetFor(opts.Reasoning)
			cfg.ThinkingConfig = &ggThinkingCfg{IncludeThoughts: true, ThinkingBudget: &budget}
		}
	}
	return cfg
}

func (p *GoogleGenAIProvider) baseURL(model ModelDef) string {
	if model.BaseURL != "" {
		return strings.TrimRight(model.BaseURL, "/")
	}
	return googleGenAIDefaultBaseURL
}

func (p *GoogleGenAIProvider) Stream(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (<-chan chatmodel.StreamEvent, <-chan error) {
	events := make(chan chatmodel.StreamEvent)
	errc := make(chan error, 1)

	apiKey := opts.APIKey
	if apiKey == "" {
		go func() {
			defer close(events)
			defer close(errc)
			errc <- errs.AuthRequired("API key required for Google")
		}()
		return events, errc
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL(model), model.ID, apiKey)

	var sysInstruction *ggSystemInstruction
	if req.SystemPrompt != "" {
		t := req.SystemPrompt
		sysInstruction = &ggSystemInstruction{Parts: []ggPart{{Text: &t}}}
	}

	body := ggGenerateContentRequest{
		Contents:          convertMessagesGoogle(req),
		SystemInstruction: sysInstruction,
		GenerationConfig:  p.buildGenerationConfig(model, opts),
		Tools:             convertToolsGoogle(req.Tools),
	}

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
			var chunk ggStreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				return true
			}
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

func derefI64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func mapGoogleStop(reason string) chatmodel.StopReason {
	switch reason {
	case "MAX_TOKENS":
		return chatmodel.StopReasonLength
	default:
		return chatmodel.StopReasonStop
	}
}

func (p *GoogleGenAIProvider) Chat(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (*chatmodel.AssistantMessage, error) {
	return ChatViaStream(ctx, p, model, req, opts)
}

func (p *GoogleGenAIProvider) ListModels(ctx context.Context, apiKey string) ([]ModelDef, error) {
	if apiKey == "" {
		return nil, errs.AuthRequired("API key required for Google")
	}
	url := fmt.Sprintf("%s/models?key=%s", googleGenAIDefaultBaseURL, apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Network(err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errs.Network(err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Network(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readUpstreamError(resp, b)
	}

	var list ggModelsListResponse
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, errs.Parse(err)
	}

	out := make([]ModelDef, 0, len(list.Models))
	for _, m := range list.Models {
		if !supportsGenerateContent(m.SupportedGenerationMethods) {
			continue
		}
		id := strings.TrimPrefix(m.Name, "models/")
		name := m.DisplayName
		if name == "" {
			name = id
		}
		ctxWindow := m.InputTokenLimit
		if ctxWindow == 0 {
			ctxWindow = 128_000
		}
		maxTokens := m.OutputTokenLimit
		if maxTokens == 0 {
			maxTokens = 8_192
		}
		out = append(out, ModelDef{
			ID: id, Name: name, Provider: "google", BaseURL: googleGenAIDefaultBaseURL,
			Reasoning:     strings.Contains(id, "thinking") || strings.Contains(id, "2.5"),
			InputModality: []string{"text", "image"},
			ContextWindow: ctxWindow,
			MaxTokens:     maxTokens,
		})
	}
	return out, nil
}

func supportsGenerateContent(methods []string) bool {
	for _, m := range methods {
		if m == "generateContent" || m == "streamGenerateContent" {
			return true
		}
	}
	return false
}
