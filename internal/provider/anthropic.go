package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zeroai/gateway/internal/chatmodel"
	"github.com/zeroai/gateway/internal/errs"
	"github.com/zeroai/gateway/internal/httputil"
)

// claudeCodeTools is the allowlist of official Claude Code tool names, in
// their canonical casing. A setup-token session mimics Claude Code, which
// means tool names crossing the wire must match this casing exactly.
var claudeCodeTools = []string{
	"Read", "Write", "Edit", "Bash", "Grep", "Glob", "AskUserQuestion",
	"EnterPlanMode", "ExitPlanMode", "KillShell", "NotebookEdit", "Skill",
	"Task", "TaskOutput", "TodoWrite", "WebFetch", "WebSearch",
}

func toClaudeCodeName(name string) string {
	lower := strings.ToLower(name)
	for _, official := range claudeCodeTools {
		if strings.ToLower(official) == lower {
			return official
		}
	}
	return name
}

func fromClaudeCodeName(name string, requested []chatmodel.ToolDef) string {
	lower := strings.ToLower(name)
	for _, t := range requested {
		if strings.ToLower(t.Name) == lower {
			return t.Name
		}
	}
	return name
}

// AnthropicProvider speaks the native Anthropic /v1/messages wire format.
// A setup-token API key (sk-ant-sid...) triggers Claude Code mimicry: a
// fixed system preamble, the claude-code beta headers, and tool name
// translation to/from Claude Code's official PascalCase names.
type AnthropicProvider struct {
	client *http.Client
}

func NewAnthropicProvider() *AnthropicProvider {
	return &AnthropicProvider{client: httputil.NewClient(5 * time.Minute)}
}

func (p *AnthropicProvider) ID() string { return "anthropic" }

const (
	anthropicAPIVersion      = "2023-06-01"
	anthropicBetaHeader      = "claude-code-20250219,interleaved-thinking-2025-05-14"
	anthropicClaudeCodeAgent = "claude-cli/2.1.2 (external, cli)"
	anthropicSystemPreamble  = "You are Claude Code, Anthropic's official CLI for Claude."
)

func isSetupToken(apiKey string) bool { return strings.Contains(apiKey, "sk-ant-sid") }

type anMessagesRequest struct {
	Model       string          `json:"model"`
	Messages    []anMessage     `json:"messages"`
	MaxTokens   int64           `json:"max_tokens"`
	System      json.RawMessage `json:"system,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []anTool        `json:"tools,omitempty"`
}

type anMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anStreamEventData struct {
	Type         string          `json:"type"`
	Index        *int            `json:"index"`
	ContentBlock *anContentBlock `json:"content_block"`
	Delta        *anDelta        `json:"delta"`
	Message      *anMessageData  `json:"message"`
	Usage        *anUsage        `json:"usage"`
}

type anContentBlock struct {
	Type string  `json:"type"`
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

type anDelta struct {
	Type        *string `json:"type"`
	Text        *string `json:"text"`
	Thinking    *string `json:"thinking"`
	Signature   *string `json:"signature"`
	PartialJSON *string `json:"partial_json"`
	StopReason  *string `json:"stop_reason"`
}

type anMessageData struct {
	Usage *anUsage `json:"usage"`
}

type anUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type anMessagesResponse struct {
	Content    []anContentResp `json:"content"`
	Usage      anUsage         `json:"usage"`
	StopReason *string         `json:"stop_reason"`
}

type anContentResp struct {
	Type      string          `json:"type"`
	Text      *string         `json:"text"`
	Thinking  *string         `json:"thinking"`
	Signature *string         `json:"signature"`
	ID        *string         `json:"id"`
	Name      *string         `json:"name"`
	Input     json.RawMessage `json:"input"`
}

func convertMessagesAnthropic(req chatmodel.ChatRequest, setupToken bool) []anMessage {
	out := make([]anMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case chatmodel.RoleUser:
			parts := make([]map[string]any, 0, len(m.Content))
			for _, b := range m.Content {
				if b.Kind == chatmodel.BlockText {
					parts = append(parts, map[string]any{"type": "text", "text": b.Text})
				}
			}
			body, _ := json.Marshal(parts)
			out = append(out, anMessage{Role: "user", Content: body})
		case chatmodel.RoleAssistant:
			parts := make([]map[string]any, 0, len(m.Content))
			for _, b := range m.Content {
				switch b.Kind {
				case chatmodel.BlockText:
					parts = append(parts, map[string]any{"type": "text", "text": b.Text})
				case chatmodel.BlockToolCall:
					name := b.ToolCallName
					if setupToken {
						name = toClaudeCodeName(name)
					}
					var args any
					_ = json.Unmarshal(b.ToolCallArgs, &args)
					parts = append(parts, map[string]any{"type": "tool_use", "id": b.ToolCallID, "name": name, "input": args})
				}
			}
			body, _ := json.Marshal(parts)
			out = append(out, anMessage{Role: "assistant", Content: body})
		case chatmodel.RoleToolResult:
			body, _ := json.Marshal([]map[string]any{{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     toolResultText(m.Content),
				"is_error":    m.IsError,
			}})
			out = append(out, anMessage{Role: "user", Content: body})
		}
	}
	return out
}

func (p *AnthropicProvider) buildRequest(model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions, apiKey string, stream bool) (anMessagesRequest, map[string]string, bool) {
	setupToken := isSetupToken(apiKey)
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicAPIVersion,
	}

	var systemBlocks []map[string]string
	if setupToken {
		headers["anthropic-beta"] = anthropicBetaHeader
		headers["user-agent"] = anthropicClaudeCodeAgent
		systemBlocks = append(systemBlocks, map[string]string{"type": "text", "text": anthropicSystemPreamble})
	}
	if req.SystemPrompt != "" {
		systemBlocks = append(systemBlocks, map[string]string{"type": "text", "text": req.SystemPrompt})
	}
	var system json.RawMessage
	if len(systemBlocks) > 0 {
		system, _ = json.Marshal(systemBlocks)
	}

	maxTokens := model.MaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	var tools []anTool
	if len(req.Tools) > 0 {
		tools = make([]anTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			name := t.Name
			if setupToken {
				name = toClaudeCodeName(name)
			}
			tools = append(tools, anTool{Name: name, Description: t.Description, InputSchema: t.Parameters})
		}
	}

	body := anMessagesRequest{
		Model:       model.ID,
		Messages:    convertMessagesAnthropic(req, setupToken),
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: opts.Temperature,
		Stream:      stream,
		Tools:       tools,
	}
	return body, headers, setupToken
}

func (p *AnthropicProvider) messagesURL(model ModelDef) string {
	base := model.BaseURL
	if base == "" {
		base = "https://api.anthropic.com/v1"
	}
	return strings.TrimRight(base, "/") + "/messages"
}

func mapAnthropicStop(reason string) chatmodel.StopReason {
	switch reason {
	case "tool_use":
		return chatmodel.StopReasonToolUse
	default:
		return chatmodel.StopReasonStop
	}
}

func (p *AnthropicProvider) Stream(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (<-chan chatmodel.StreamEvent, <-chan error) {
	events := make(chan chatmodel.StreamEvent)
	errc := make(chan error, 1)

	apiKey := opts.APIKey
	if apiKey == "" {
		go func() {
			defer close(events)
			defer close(errc)
			errc <- errs.AuthRequired("API key required for Anthropic")
		}()
		return events, errc
	}

	body, headers, setupToken := p.buildRequest(model, req, opts, apiKey, true)
	requestedTools := req.Tools

	go func() {
		defer close(events)
		defer close(errc)

		payload, err := json.Marshal(body)
		if err != nil {
			errc <- errs.Parse(err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.messagesURL(model), bytes.NewReader(payload))
		if err != nil {
			errc <- errs.Network(err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
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
		var signatureBuf string
		type pendingCall struct {
			id, name string
			args     strings.Builder
		}
		var toolCalls []pendingCall
		// Anthropic numbers all content blocks (text, thinking, tool_use)
		// from one wire-level sequence; toolCalls only holds the tool_use
		// ones, so each started block's wire index is remapped here.
		blockToTool := make(map[int]int)
		var usage chatmodel.Usage
		stop := chatmodel.StopReasonStop

		scanErr := sseLines(resp.Body, func(data []byte) bool {
			var evt anStreamEventData
			if err := json.Unmarshal(data, &evt); err != nil {
				return true
			}
			switch evt.Type {
			case "message_start":
				if evt.Message != nil && evt.Message.Usage != nil {
					usage.InputTokens = evt.Message.Usage.InputTokens
				}
			case "content_block_start":
				if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
					id := strOrEmpty(evt.ContentBlock.ID)
					name := strOrEmpty(evt.ContentBlock.Name)
					if setupToken {
						name = fromClaudeCodeName(name, requestedTools)
					}
					idx := len(toolCalls)
					toolCalls = append(toolCalls, pendingCall{id: id, name: name})
					if evt.Index != nil {
						blockToTool[*evt.Index] = idx
					}
					events <- chatmodel.StreamEvent{Kind: chatmodel.EventToolCallStart, ToolCallIndex: idx, ToolCallID: id, ToolCallName: name}
				}
			case "content_block_delta":
				if evt.Delta == nil {
					break
				}
				if evt.Delta.Text != nil {
					textBuf.WriteString(*evt.Delta.Text)
					events <- chatmodel.StreamEvent{Kind: chatmodel.EventTextDelta, TextDelta: *evt.Delta.Text}
				}
				if evt.Delta.Thinking != nil {
					thinkingBuf.WriteString(*evt.Delta.Thinking)
					events <- chatmodel.StreamEvent{Kind: chatmodel.EventThinkingDelta, ThinkingDelta: *evt.Delta.Thinking}
				}
				if evt.Delta.Signature != nil {
					signatureBuf += *evt.Delta.Signature
				}
				if evt.Delta.PartialJSON != nil && len(toolCalls) > 0 {
					last := len(toolCalls) - 1
					toolCalls[last].args.WriteString(*evt.Delta.PartialJSON)
					events <- chatmodel.StreamEvent{Kind: chatmodel.EventToolCallDelta, ToolCallIndex: last, ArgsDelta: *evt.Delta.PartialJSON}
				}
			case "content_block_stop":
				if evt.Index != nil {
					if idx, ok := blockToTool[*evt.Index]; ok {
						tc := toolCalls[idx]
						block := chatmodel.ToolCallBlock(tc.id, tc.name, parseArgsOrEmpty(tc.args.String()))
						events <- chatmodel.StreamEvent{Kind: chatmodel.EventToolCallEnd, ToolCallIndex: idx, ToolCall: &block}
					}
				}
			case "message_delta":
				if evt.Delta != nil && evt.Delta.StopReason != nil {
					stop = mapAnthropicStop(*evt.Delta.StopReason)
				}
				if evt.Usage != nil {
					usage.OutputTokens = evt.Usage.OutputTokens
				}
			}
			return true
		})
		if scanErr != nil {
			errc <- errs.Network(scanErr)
			return
		}

		content := make([]chatmodel.ContentBlock, 0, len(toolCalls)+2)
		if thinkingBuf.Len() > 0 {
			content = append(content, chatmodel.ThinkingBlock(thinkingBuf.String(), signatureBuf))
		}
		if textBuf.Len() > 0 {
			content = append(content, chatmodel.TextBlock(textBuf.String()))
		}
		for _, tc := range toolCalls {
			content = append(content, chatmodel.ToolCallBlock(tc.id, tc.name, parseArgsOrEmpty(tc.args.String())))
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

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (p *AnthropicProvider) Chat(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (*chatmodel.AssistantMessage, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		return nil, errs.AuthRequired("API key required for Anthropic")
	}

	body, headers, setupToken := p.buildRequest(model, req, opts, apiKey, false)
	requestedTools := req.Tools

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Parse(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.messagesURL(model), bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Network(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
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

	var msgResp anMessagesResponse
	if err := json.Unmarshal(b, &msgResp); err != nil {
		return nil, errs.Parse(err)
	}

	var content []chatmodel.ContentBlock
	for _, block := range msgResp.Content {
		switch block.Type {
		case "text":
			if block.Text != nil {
				content = append(content, chatmodel.TextBlock(*block.Text))
			}
		case "thinking":
			if block.Thinking != nil {
				content = append(content, chatmodel.ThinkingBlock(*block.Thinking, strOrEmpty(block.Signature)))
			}
		case "tool_use":
			name := strOrEmpty(block.Name)
			if setupToken {
				name = fromClaudeCodeName(name, requestedTools)
			}
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			content = append(content, chatmodel.ToolCallBlock(strOrEmpty(block.ID), name, args))
		}
	}

	usage := chatmodel.Usage{
		InputTokens:  msgResp.Usage.InputTokens,
		OutputTokens: msgResp.Usage.OutputTokens,
		TotalTokens:  msgResp.Usage.InputTokens + msgResp.Usage.OutputTokens,
	}

	stop := chatmodel.StopReasonStop
	if msgResp.StopReason != nil {
		stop = mapAnthropicStop(*msgResp.StopReason)
	}

	return &chatmodel.AssistantMessage{
		Content:    content,
		Model:      model.ID,
		Provider:   model.Provider,
		Usage:      &usage,
		StopReason: stop,
	}, nil
}

func (p *AnthropicProvider) ListModels(ctx context.Context, apiKey string) ([]ModelDef, error) {
	return StaticAnthropicModels(), nil
}

// StaticAnthropicModels is the fixed catalog entry for Anthropic, grounded
// on the current public model lineup.
func StaticAnthropicModels() []ModelDef {
	const base = "https://api.anthropic.com/v1"
	mk := func(id, name string, reasoning bool, ctxWindow, maxTokens int64) ModelDef {
		return ModelDef{
			ID: id, Name: name, Provider: "anthropic", BaseURL: base,
			Reasoning: reasoning, InputModality: []string{"text", "image"},
			ContextWindow: ctxWindow, MaxTokens: maxTokens,
		}
	}
	return []ModelDef{
		mk("claude-opus-4-1-20250805", "Claude Opus 4.1", true, 200_000, 32_000),
		mk("claude-sonnet-4-5-20250929", "Claude Sonnet 4.5", true, 200_000, 64_000),
		mk("claude-3-5-sonnet-20241022", "Claude 3.5 Sonnet", false, 200_000, 8_192),
		mk("claude-3-5-haiku-20241022", "Claude 3.5 Haiku", false, 200_000, 8_192),
	}
}
