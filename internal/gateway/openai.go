package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zeroai/gateway/internal/chatmodel"
	"github.com/zeroai/gateway/internal/dispatch"
)

// ---- client-facing OpenAI wire types ----

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int64              `json:"max_tokens,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
	Tools       []openAITool        `json:"tools,omitempty"`
	Reasoning   *string             `json:"reasoning_effort,omitempty"`
}

type openAIChatMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

// ---- request translation ----

func openAIToChatRequest(req openAIChatRequest) (string, chatmodel.ChatRequest, chatmodel.RequestOptions, error) {
	var out chatmodel.ChatRequest
	for _, m := range req.Messages {
		switch m.Role {
		case "system", "developer":
			out.SystemPrompt = textFromRawContent(m.Content)
		case "user":
			out.Messages = append(out.Messages, chatmodel.Message{
				Role:    chatmodel.RoleUser,
				Content: contentBlocksFromRaw(m.Content),
			})
		case "assistant":
			var blocks []chatmodel.ContentBlock
			if text := textFromRawContent(m.Content); text != "" {
				blocks = append(blocks, chatmodel.TextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, chatmodel.ToolCallBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
			}
			out.Messages = append(out.Messages, chatmodel.Message{Role: chatmodel.RoleAssistant, Content: blocks})
		case "tool":
			out.Messages = append(out.Messages, chatmodel.Message{
				Role:       chatmodel.RoleToolResult,
				Content:    []chatmodel.ContentBlock{chatmodel.TextBlock(textFromRawContent(m.Content))},
				ToolCallID: m.ToolCallID,
				ToolName:   m.Name,
			})
		}
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatmodel.ToolDef{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	opts := chatmodel.RequestOptions{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Reasoning != nil {
		opts.Reasoning = chatmodel.ReasoningLevel(*req.Reasoning)
	}

	return req.Model, out, opts, nil
}

func textFromRawContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var out string
		for _, p := range parts {
			if p.Type == "text" {
				out += p.Text
			}
		}
		return out
	}
	return ""
}

func contentBlocksFromRaw(raw json.RawMessage) []chatmodel.ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []chatmodel.ContentBlock{chatmodel.TextBlock(s)}
	}
	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	blocks := make([]chatmodel.ContentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, chatmodel.TextBlock(p.Text))
		case "image_url":
			if p.ImageURL != nil {
				blocks = append(blocks, chatmodel.ImageBlock("", p.ImageURL.URL))
			}
		}
	}
	return blocks
}

// ---- response translation ----

type openAIChatResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
	Usage   *openAIUsage       `json:"usage,omitempty"`
}

type openAIChatChoice struct {
	Index        int               `json:"index"`
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func assistantMessageToOpenAI(msg *chatmodel.AssistantMessage) openAIChatResponse {
	var text string
	var toolCalls []openAIToolCall
	for _, b := range msg.Content {
		switch b.Kind {
		case chatmodel.BlockText:
			text += b.Text
		case chatmodel.BlockToolCall:
			toolCalls = append(toolCalls, openAIToolCall{
				ID:   b.ToolCallID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      b.ToolCallName,
					Arguments: string(b.ToolCallArgs),
				},
			})
		}
	}

	// Empty text serialises as content: null, never "".
	message := openAIChatMessage{Role: "assistant", ToolCalls: toolCalls}
	if text != "" {
		b, _ := json.Marshal(text)
		message.Content = b
	}

	resp := openAIChatResponse{
		Object:  "chat.completion",
		Model:   msg.Model,
		Choices: []openAIChatChoice{{Message: message, FinishReason: openAIFinishReason(msg.StopReason)}},
	}
	if msg.Usage != nil {
		resp.Usage = &openAIUsage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.TotalTokens,
		}
	}
	return resp
}

func openAIFinishReason(stop chatmodel.StopReason) string {
	switch stop {
	case chatmodel.StopReasonLength:
		return "length"
	case chatmodel.StopReasonToolUse:
		return "tool_calls"
	case chatmodel.StopReasonError, chatmodel.StopReasonAborted:
		return "stop"
	default:
		return "stop"
	}
}

type openAIStreamChunk struct {
	Object  string                    `json:"object"`
	Model   string                    `json:"model"`
	Choices []openAIStreamChunkChoice `json:"choices"`
	Usage   *openAIUsage              `json:"usage,omitempty"`
}

type openAIStreamChunkChoice struct {
	Index        int         `json:"index"`
	Delta        openAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type openAIDelta struct {
	Role      string                 `json:"role,omitempty"`
	Content   string                 `json:"content,omitempty"`
	ToolCalls []openAIStreamToolCall `json:"tool_calls,omitempty"`
}

type openAIStreamToolCall struct {
	Index    int                   `json:"index"`
	ID       string                `json:"id,omitempty"`
	Type     string                `json:"type,omitempty"`
	Function *openAIStreamFunction `json:"function,omitempty"`
}

type openAIStreamFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ---- handlers ----

// Models lists the enabled fullModelIDs in OpenAI's /v1/models shape,
// falling back to everything the catalog knows when no enabled-models list
// is configured.
func (h *Handlers) Models(c *gin.Context) {
	var ids []string
	if h.EnabledModels != nil {
		if enabled, err := h.EnabledModels(); err == nil && len(enabled) > 0 {
			ids = h.Catalog.EnabledModels(enabled)
		}
	}
	if len(ids) == 0 {
		ids = h.Catalog.AllIDs()
	}

	data := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		ownedBy := "unknown"
		if providerID, _, ok := dispatch.SplitModelID(id); ok {
			ownedBy = providerID
		}
		data = append(data, gin.H{"id": id, "object": "model", "created": 0, "owned_by": ownedBy})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// ChatCompletions serves POST /v1/chat/completions, dispatching to the
// model's provider and translating the response back to OpenAI's shape.
func (h *Handlers) ChatCompletions(c *gin.Context) {
	var req openAIChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("invalid request: %v", err), "invalid_request_error"))
		return
	}

	fullModelID, chatReq, opts, err := openAIToChatRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error"))
		return
	}

	if !req.Stream {
		msg, err := h.Core.Chat(c.Request.Context(), fullModelID, chatReq, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, assistantMessageToOpenAI(msg))
		return
	}

	h.streamOpenAI(c, fullModelID, chatReq, opts)
}

func (h *Handlers) streamOpenAI(c *gin.Context, fullModelID string, chatReq chatmodel.ChatRequest, opts chatmodel.RequestOptions) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorBody("streaming not supported", "server_error"))
		return
	}

	events, errc := h.Core.Stream(c.Request.Context(), fullModelID, chatReq, opts)
	wroteRole := false
	for ev := range events {
		chunk := openAIStreamChunk{Object: "chat.completion.chunk"}
		switch ev.Kind {
		case chatmodel.EventStart:
			continue
		case chatmodel.EventTextDelta:
			delta := openAIDelta{Content: ev.TextDelta}
			if !wroteRole {
				delta.Role = "assistant"
				wroteRole = true
			}
			chunk.Choices = []openAIStreamChunkChoice{{Delta: delta}}
		case chatmodel.EventToolCallStart:
			chunk.Choices = []openAIStreamChunkChoice{{Delta: openAIDelta{
				ToolCalls: []openAIStreamToolCall{{Index: ev.ToolCallIndex, ID: ev.ToolCallID, Type: "function", Function: &openAIStreamFunction{Name: ev.ToolCallName}}},
			}}}
		case chatmodel.EventToolCallDelta:
			chunk.Choices = []openAIStreamChunkChoice{{Delta: openAIDelta{
				ToolCalls: []openAIStreamToolCall{{Index: ev.ToolCallIndex, Function: &openAIStreamFunction{Arguments: ev.ArgsDelta}}},
			}}}
		case chatmodel.EventDone:
			reason := openAIFinishReason(ev.Message.StopReason)
			chunk.Choices = []openAIStreamChunkChoice{{Delta: openAIDelta{}, FinishReason: &reason}}
			chunk.Model = ev.Message.Model
			if ev.Message.Usage != nil {
				chunk.Usage = &openAIUsage{
					PromptTokens:     ev.Message.Usage.InputTokens,
					CompletionTokens: ev.Message.Usage.OutputTokens,
					TotalTokens:      ev.Message.Usage.TotalTokens,
				}
			}
		default:
			continue
		}
		writeSSEJSON(c.Writer, chunk)
		flusher.Flush()
	}

	if err := <-errc; err != nil {
		writeSSEJSON(c.Writer, errorBody(err.Error(), "server_error"))
		flusher.Flush()
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}
