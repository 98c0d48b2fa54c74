package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zeroai/gateway/internal/chatmodel"
	"github.com/zeroai/gateway/internal/errs"
	"github.com/zeroai/gateway/internal/httputil"
)

// AuthStyle picks how OpenAICompatProvider attaches the API key to a request.
type AuthStyle int

const (
	AuthBearer AuthStyle = iota
	AuthXAPIKey
	AuthCustom
)

// OpenAICompatProvider speaks the OpenAI chat-completions wire format used
// by OpenAI itself and by the many "OpenAI-compatible" custom endpoints
// (OpenRouter, Together, Groq, local Ollama servers, and so on).
type OpenAICompatProvider struct {
	Name             string
	BaseURL          string
	APIKey           string
	Auth             AuthStyle
	CustomHeaderName string
	CustomValuePfx   string
	ModelsURL        string

	client *http.Client
}

// NewOpenAICompatProvider builds an adapter bound to one base URL and auth
// style. apiKey is a fallback used when RequestOptions carries none.
func NewOpenAICompatProvider(name, baseURL, apiKey string, auth AuthStyle) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		Name:    name,
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Auth:    auth,
		client:  httputil.NewClient(5 * time.Minute),
	}
}

// NewCustomProvider builds the adapter serving a user-declared
// custom:<baseURL> provider id: OpenAI wire format, bearer auth, models
// listed from {baseURL}/v1/models. An Ollama host (spotted by its default
// port) lists from its native /api/tags route instead.
func NewCustomProvider(providerID, baseURL string) *OpenAICompatProvider {
	p := NewOpenAICompatProvider(providerID, baseURL, "", AuthBearer)
	root := strings.TrimRight(baseURL, "/")
	if strings.Contains(root, ":11434") {
		p.ModelsURL = strings.TrimSuffix(root, "/v1") + "/api/tags"
	} else {
		p.ModelsURL = root + "/v1/models"
	}
	return p
}

func (p *OpenAICompatProvider) ID() string { return p.Name }

func (p *OpenAICompatProvider) chatCompletionsURL(modelBaseURL string) string {
	base := strings.TrimRight(p.baseURLOrDefault(modelBaseURL), "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

func (p *OpenAICompatProvider) modelsListURL() string {
	if p.ModelsURL != "" {
		return p.ModelsURL
	}
	return strings.TrimRight(p.BaseURL, "/") + "/models"
}

// baseURLOrDefault prefers the calling model's own BaseURL (as carried by
// the model catalog) over the adapter's construction-time default, the same
// precedence AnthropicProvider.messagesURL applies.
func (p *OpenAICompatProvider) baseURLOrDefault(modelBaseURL string) string {
	if modelBaseURL != "" {
		return modelBaseURL
	}
	return p.BaseURL
}

func (p *OpenAICompatProvider) applyAuth(req *http.Request, key string) {
	switch p.Auth {
	case AuthXAPIKey:
		req.Header.Set("x-api-key", key)
	case AuthCustom:
		v := p.CustomValuePfx
		if strings.Contains(v, "{key}") || strings.Contains(v, "{api_key}") {
			v = strings.NewReplacer("{key}", key, "{api_key}", key).Replace(v)
		} else if v != "" {
			v = v + key
		} else {
			v = key
		}
		req.Header.Set(p.CustomHeaderName, v)
	default:
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

// ---- wire types ----

type oaChatRequest struct {
	Model         string           `json:"model"`
	Messages      []oaMessage      `json:"messages"`
	Temperature   *float64         `json:"temperature,omitempty"`
	MaxTokens     *int64           `json:"max_tokens,omitempty"`
	Stream        bool             `json:"stream"`
	StreamOptions *oaStreamOptions `json:"stream_options,omitempty"`
	Tools         []oaToolSchema   `json:"tools,omitempty"`
}

type oaStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []oaToolCallReq `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type oaToolCallReq struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function oaFunctionCall `json:"function"`
}

type oaFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaToolSchema struct {
	Type     string        `json:"type"`
	Function oaFunctionDef `json:"function"`
}

type oaFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type oaStreamChunk struct {
	Choices []oaStreamChoice `json:"choices"`
	Usage   *oaUsage         `json:"usage"`
}

type oaStreamChoice struct {
	Delta        *oaDelta `json:"delta"`
	FinishReason *string  `json:"finish_reason"`
}

type oaDelta struct {
	Content   *string           `json:"content"`
	ToolCalls []oaToolCallDelta `json:"tool_calls"`
}

type oaToolCallDelta struct {
	Index    *int             `json:"index"`
	ID       *string          `json:"id"`
	Function *oaFunctionDelta `json:"function"`
}

type oaFunctionDelta struct {
	Name      *string `json:"name"`
	Arguments *string `json:"arguments"`
}

type oaUsage struct {
	PromptTokens     *int64 `json:"prompt_tokens"`
	CompletionTokens *int64 `json:"completion_tokens"`
	TotalTokens      *int64 `json:"total_tokens"`
}

type oaChatResponse struct {
	Choices []oaChatChoice `json:"choices"`
	Usage   *oaUsage       `json:"usage"`
}

type oaChatChoice struct {
	Message      oaMessageResp `json:"message"`
	FinishReason *string       `json:"finish_reason"`
}

type oaMessageResp struct {
	Content   *string          `json:"content"`
	ToolCalls []oaToolCallResp `json:"tool_calls"`
}

type oaToolCallResp struct {
	ID       string         `json:"id"`
	Function oaFunctionResp `json:"function"`
}

type oaFunctionResp struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaModelsResponse struct {
	Data []oaModelEntry `json:"data"`
}

type oaModelEntry struct {
	ID string `json:"id"`
}

type ollamaTagsResponse struct {
	Models []ollamaTagEntry `json:"models"`
}

type ollamaTagEntry struct {
	Name string `json:"name"`
}

func convertMessagesOpenAI(req chatmodel.ChatRequest) []oaMessage {
	var msgs []oaMessage
	if req.SystemPrompt != "" {
		msgs = append(msgs, oaMessage{Role: "system", Content: jsonString(req.SystemPrompt)})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case chatmodel.RoleUser:
			msgs = append(msgs, oaMessage{Role: "user", Content: userContentToJSON(m.Content)})
		case chatmodel.RoleAssistant:
			var text strings.Builder
			var toolCalls []oaToolCallReq
			for _, b := range m.Content {
				switch b.Kind {
				case chatmodel.BlockText:
					text.WriteString(b.Text)
				case chatmodel.BlockToolCall:
					toolCalls = append(toolCalls, oaToolCallReq{
						ID:   b.ToolCallID,
						Type: "function",
						Function: oaFunctionCall{
							Name:      b.ToolCallName,
							Arguments: string(b.ToolCallArgs),
						},
					})
				}
			}
			msg := oaMessage{Role: "assistant", ToolCalls: toolCalls}
			if text.Len() > 0 {
				msg.Content = jsonString(text.String())
			}
			msgs = append(msgs, msg)
		case chatmodel.RoleToolResult:
			msgs = append(msgs, oaMessage{
				Role:       "tool",
				Content:    jsonString(toolResultText(m.Content)),
				ToolCallID: m.ToolCallID,
				Name:       m.ToolName,
			})
		}
	}
	return msgs
}

func toolResultText(blocks []chatmodel.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Kind == chatmodel.BlockText {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func userContentToJSON(blocks []chatmodel.ContentBlock) json.RawMessage {
	if len(blocks) == 1 && blocks[0].Kind == chatmodel.BlockText {
		return jsonString(blocks[0].Text)
	}
	parts := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case chatmodel.BlockText:
			parts = append(parts, map[string]any{"type": "text", "text": b.Text})
		case chatmodel.BlockImage:
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": fmt.Sprintf("data:%s;base64,%s", b.ImageMimeType, b.ImageBase64),
				},
			})
		}
	}
	out, _ := json.Marshal(parts)
	return out
}

func convertToolsOpenAI(tools []chatmodel.ToolDef) []oaToolSchema {
	if len(tools) == 0 {
		return nil
	}
	out := make([]oaToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, oaToolSchema{
			Type: "function",
			Function: oaFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func resolveAPIKey(fallback string, opts chatmodel.RequestOptions) (string, bool) {
	if opts.APIKey != "" {
		return opts.APIKey, true
	}
	if fallback != "" {
		return fallback, true
	}
	return "", false
}

func (p *OpenAICompatProvider) Stream(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (<-chan chatmodel.StreamEvent, <-chan error) {
	events := make(chan chatmodel.StreamEvent)
	errc := make(chan error, 1)

	apiKey, ok := resolveAPIKey(p.APIKey, opts)
	if !ok {
		go func() {
			defer close(events)
			defer close(errc)
			errc <- errs.AuthRequired(fmt.Sprintf("API key required for %s", p.Name))
		}()
		return events, errc
	}

	body := oaChatRequest{
		Model:         model.ID,
		Messages:      convertMessagesOpenAI(req),
		Temperature:   opts.Temperature,
		MaxTokens:     opts.MaxTokens,
		Stream:        true,
		StreamOptions: &oaStreamOptions{IncludeUsage: true},
		Tools:         convertToolsOpenAI(req.Tools),
	}

	go func() {
		defer close(events)
		defer close(errc)

		payload, err := json.Marshal(body)
		if err != nil {
			errc <- errs.Parse(err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatCompletionsURL(model.BaseURL), bytes.NewReader(payload))
		if err != nil {
			errc <- errs.Network(err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		p.applyAuth(httpReq, apiKey)
		for k, v := range opts.ExtraHeaders {
			httpReq.Header.Set(k, v)
		}
		for k, v := range model.ExtraHeaders {
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

		var textBuf strings.Builder
		type pendingCall struct {
			id, name string
			args     strings.Builder
		}
		var toolCalls []pendingCall
		var usage chatmodel.Usage
		stop := chatmodel.StopReasonStop

		scanErr := sseLines(resp.Body, func(data []byte) bool {
			var chunk oaStreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				return true
			}
			if chunk.Usage != nil {
				usage.InputTokens = deref(chunk.Usage.PromptTokens)
				usage.OutputTokens = deref(chunk.Usage.CompletionTokens)
				usage.TotalTokens = deref(chunk.Usage.TotalTokens)
			}
			for _, choice := range chunk.Choices {
				if choice.FinishReason != nil {
					stop = mapOpenAIStop(*choice.FinishReason)
				}
				if choice.Delta == nil {
					continue
				}
				if choice.Delta.Content != nil {
					textBuf.WriteString(*choice.Delta.Content)
					events <- chatmodel.StreamEvent{Kind: chatmodel.EventTextDelta, TextDelta: *choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					idx := len(toolCalls)
					if tc.Index != nil {
						idx = *tc.Index
					}
					for len(toolCalls) <= idx {
						toolCalls = append(toolCalls, pendingCall{})
					}
					if tc.ID != nil {
						toolCalls[idx].id = *tc.ID
					}
					if tc.Function != nil {
						if tc.Function.Name != nil && toolCalls[idx].name == "" {
							toolCalls[idx].name = *tc.Function.Name
							events <- chatmodel.StreamEvent{Kind: chatmodel.EventToolCallStart, ToolCallIndex: idx, ToolCallID: toolCalls[idx].id, ToolCallName: toolCalls[idx].name}
						}
						if tc.Function.Arguments != nil {
							toolCalls[idx].args.WriteString(*tc.Function.Arguments)
							events <- chatmodel.StreamEvent{Kind: chatmodel.EventToolCallDelta, ToolCallIndex: idx, ArgsDelta: *tc.Function.Arguments}
						}
					}
				}
			}
			return true
		})
		if scanErr != nil {
			errc <- errs.Network(scanErr)
			return
		}

		content := make([]chatmodel.ContentBlock, 0, len(toolCalls)+1)
		if textBuf.Len() > 0 {
			content = append(content, chatmodel.TextBlock(textBuf.String()))
		}
		for i, tc := range toolCalls {
			block := chatmodel.ToolCallBlock(tc.id, tc.name, parseArgsOrEmpty(tc.args.String()))
			events <- chatmodel.StreamEvent{Kind: chatmodel.EventToolCallEnd, ToolCallIndex: i, ToolCall: &block}
			content = append(content, block)
		}

		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
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

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func parseArgsOrEmpty(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage("{}")
	}
	if !json.Valid([]byte(s)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

func mapOpenAIStop(reason string) chatmodel.StopReason {
	switch reason {
	case "length":
		return chatmodel.StopReasonLength
	case "tool_calls":
		return chatmodel.StopReasonToolUse
	default:
		return chatmodel.StopReasonStop
	}
}

func (p *OpenAICompatProvider) Chat(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (*chatmodel.AssistantMessage, error) {
	apiKey, ok := resolveAPIKey(p.APIKey, opts)
	if !ok {
		return nil, errs.AuthRequired(fmt.Sprintf("API key required for %s", p.Name))
	}

	body := oaChatRequest{
		Model:       model.ID,
		Messages:    convertMessagesOpenAI(req),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      false,
		Tools:       convertToolsOpenAI(req.Tools),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Parse(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatCompletionsURL(model.BaseURL), bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Network(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.applyAuth(httpReq, apiKey)
	for k, v := range opts.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range model.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errs.Network(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Network(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readUpstreamError(resp, respBody)
	}

	var chatResp oaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errs.Parse(err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, errs.Parse(fmt.Errorf("empty response from %s", p.Name))
	}

	choice := chatResp.Choices[0]
	var content []chatmodel.ContentBlock
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		content = append(content, chatmodel.TextBlock(*choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		content = append(content, chatmodel.ToolCallBlock(tc.ID, tc.Function.Name, parseArgsOrEmpty(tc.Function.Arguments)))
	}

	stop := chatmodel.StopReasonStop
	if choice.FinishReason != nil {
		stop = mapOpenAIStop(*choice.FinishReason)
	}

	var usage chatmodel.Usage
	if chatResp.Usage != nil {
		usage.InputTokens = deref(chatResp.Usage.PromptTokens)
		usage.OutputTokens = deref(chatResp.Usage.CompletionTokens)
		usage.TotalTokens = deref(chatResp.Usage.TotalTokens)
	}

	return &chatmodel.AssistantMessage{
		Content:    content,
		Model:      model.ID,
		Provider:   model.Provider,
		Usage:      &usage,
		StopReason: stop,
	}, nil
}

func (p *OpenAICompatProvider) ListModels(ctx context.Context, apiKey string) ([]ModelDef, error) {
	key, ok := resolveAPIKey(p.APIKey, chatmodel.RequestOptions{APIKey: apiKey})
	if !ok {
		return nil, errs.AuthRequired(fmt.Sprintf("API key required for %s", p.Name))
	}

	listURL := p.modelsListURL()
	ids, err := p.fetchModelIDs(ctx, listURL, key)
	if err != nil && strings.HasSuffix(listURL, "/api/tags") {
		// Ollama hosts occasionally sit behind a proxy that only exposes
		// the OpenAI-shaped route; retry there before giving up.
		ids, err = p.fetchModelIDs(ctx, strings.TrimRight(p.BaseURL, "/")+"/models", key)
	}
	if err != nil {
		return nil, err
	}

	out := make([]ModelDef, 0, len(ids))
	for _, id := range ids {
		out = append(out, ModelDef{
			ID:            id,
			Name:          id,
			Provider:      p.Name,
			BaseURL:       p.BaseURL,
			InputModality: []string{"text"},
			ContextWindow: 128_000,
			MaxTokens:     16_384,
		})
	}
	return out, nil
}

func (p *OpenAICompatProvider) fetchModelIDs(ctx context.Context, listURL, key string) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, errs.Network(err)
	}
	p.applyAuth(httpReq, key)

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

	if strings.HasSuffix(listURL, "/api/tags") {
		var tags ollamaTagsResponse
		if err := json.Unmarshal(b, &tags); err != nil {
			return nil, errs.Parse(err)
		}
		ids := make([]string, 0, len(tags.Models))
		for _, m := range tags.Models {
			if m.Name != "" {
				ids = append(ids, m.Name)
			}
		}
		return ids, nil
	}

	var listResp oaModelsResponse
	if err := json.Unmarshal(b, &listResp); err != nil {
		return nil, errs.Parse(err)
	}
	ids := make([]string, 0, len(listResp.Data))
	for _, entry := range listResp.Data {
		ids = append(ids, entry.ID)
	}
	return ids, nil
}
