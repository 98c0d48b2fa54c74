package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zeroai/gateway/internal/chatmodel"
)

// ---- client-facing Anthropic wire types ----

type anthropicMessagesRequest struct {
	Model       string               `json:"model"`
	Messages    []anthropicMessageIn `json:"messages"`
	System      json.RawMessage      `json:"system,omitempty"`
	MaxTokens   int64                `json:"max_tokens"`
	Temperature *float64             `json:"temperature,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
	Tools       []anthropicToolIn    `json:"tools,omitempty"`
}

type anthropicMessageIn struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicBlockIn struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicToolIn struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func anthropicToChatRequest(req anthropicMessagesRequest) (string, chatmodel.ChatRequest, chatmodel.RequestOptions) {
	var out chatmodel.ChatRequest
	out.SystemPrompt = anthropicSystemText(req.System)

	for _, m := range req.Messages {
		blocks := anthropicBlocksFromRaw(m.Content)
		switch m.Role {
		case "user":
			var toolResult *anthropicBlockIn
			for i := range blocks {
				if blocks[i].Type == "tool_result" {
					toolResult = &blocks[i]
					break
				}
			}
			if toolResult != nil {
				out.Messages = append(out.Messages, chatmodel.Message{
					Role:       chatmodel.RoleToolResult,
					Content:    []chatmodel.ContentBlock{chatmodel.TextBlock(anthropicToolResultText(toolResult.Content))},
					ToolCallID: toolResult.ToolUseID,
					IsError:    toolResult.IsError,
				})
				continue
			}
			out.Messages = append(out.Messages, chatmodel.Message{Role: chatmodel.RoleUser, Content: anthropicContentBlocks(blocks)})
		case "assistant":
			out.Messages = append(out.Messages, chatmodel.Message{Role: chatmodel.RoleAssistant, Content: anthropicContentBlocks(blocks)})
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatmodel.ToolDef{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}

	opts := chatmodel.RequestOptions{Temperature: req.Temperature}
	if req.MaxTokens > 0 {
		opts.MaxTokens = &req.MaxTokens
	}
	return req.Model, out, opts
}

func anthropicSystemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []anthropicBlockIn
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var out string
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

func anthropicBlocksFromRaw(raw json.RawMessage) []anthropicBlockIn {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []anthropicBlockIn{{Type: "text", Text: s}}
	}
	var blocks []anthropicBlockIn
	_ = json.Unmarshal(raw, &blocks)
	return blocks
}

func anthropicToolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []anthropicBlockIn
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var out string
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return string(raw)
}

func anthropicContentBlocks(blocks []anthropicBlockIn) []chatmodel.ContentBlock {
	out := make([]chatmodel.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, chatmodel.TextBlock(b.Text))
		case "thinking":
			out = append(out, chatmodel.ThinkingBlock(b.Thinking, b.Signature))
		case "tool_use":
			out = append(out, chatmodel.ToolCallBlock(b.ID, b.Name, b.Input))
		}
	}
	return out
}

// ---- response translation ----

type anthropicMessagesResponse struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Role       string              `json:"role"`
	Model      string              `json:"model"`
	Content    []anthropicBlockOut `json:"content"`
	StopReason string              `json:"stop_reason"`
	Usage      anthropicUsageOut   `json:"usage"`
}

type anthropicBlockOut struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type anthropicUsageOut struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
}

func assistantMessageToAnthropic(msg *chatmodel.AssistantMessage) anthropicMessagesResponse {
	resp := anthropicMessagesResponse{
		Type:       "message",
		Role:       "assistant",
		Model:      msg.Model,
		StopReason: anthropicStopReason(msg.StopReason),
	}
	for _, b := range msg.Content {
		switch b.Kind {
		case chatmodel.BlockText:
			resp.Content = append(resp.Content, anthropicBlockOut{Type: "text", Text: b.Text})
		case chatmodel.BlockThinking:
			resp.Content = append(resp.Content, anthropicBlockOut{Type: "thinking", Thinking: b.Thinking, Signature: b.ThinkingSignature})
		case chatmodel.BlockToolCall:
			resp.Content = append(resp.Content, anthropicBlockOut{Type: "tool_use", ID: b.ToolCallID, Name: b.ToolCallName, Input: b.ToolCallArgs})
		}
	}
	if msg.Usage != nil {
		resp.Usage = anthropicUsageOut{
			InputTokens:         msg.Usage.InputTokens,
			OutputTokens:        msg.Usage.OutputTokens,
			CacheReadTokens:     msg.Usage.CacheReadTokens,
			CacheCreationTokens: msg.Usage.CacheWriteTokens,
		}
	}
	return resp
}

func anthropicStopReason(stop chatmodel.StopReason) string {
	switch stop {
	case chatmodel.StopReasonToolUse:
		return "tool_use"
	case chatmodel.StopReasonLength:
		return "max_tokens"
	default:
		return "end_turn"
	}
}

// ---- handler ----

// Messages serves POST /v1/messages. Non-streaming is the default body
// shape; stream:true is served as an SSE extension beyond the strict
// Anthropic surface, matching the rest of this gateway's streaming support.
func (h *Handlers) Messages(c *gin.Context) {
	var req anthropicMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("invalid request: %v", err), "invalid_request_error"))
		return
	}

	fullModelID, chatReq, opts := anthropicToChatRequest(req)

	if !req.Stream {
		msg, err := h.Core.Chat(c.Request.Context(), fullModelID, chatReq, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, assistantMessageToAnthropic(msg))
		return
	}

	h.streamAnthropic(c, fullModelID, chatReq, opts)
}

func (h *Handlers) streamAnthropic(c *gin.Context, fullModelID string, chatReq chatmodel.ChatRequest, opts chatmodel.RequestOptions) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorBody("streaming not supported", "server_error"))
		return
	}

	events, errc := h.Core.Stream(c.Request.Context(), fullModelID, chatReq, opts)

	// Anthropic's wire protocol numbers content blocks sequentially as they
	// open, text and tool-use alike. The provider-side event only carries a
	// per-kind index (e.g. the Nth tool call), so the gateway remaps each
	// one to its own slot in open order here.
	textBlockIndex := -1
	thinkingBlockIndex := -1
	toolBlockIndex := make(map[int]int)
	nextIndex := 0

	for ev := range events {
		switch ev.Kind {
		case chatmodel.EventStart:
			writeAnthropicSSE(c.Writer, "message_start", gin.H{"type": "message_start", "message": gin.H{"type": "message", "role": "assistant", "content": []any{}}})
		case chatmodel.EventThinkingDelta:
			if thinkingBlockIndex < 0 {
				thinkingBlockIndex = nextIndex
				nextIndex++
				writeAnthropicSSE(c.Writer, "content_block_start", gin.H{"type": "content_block_start", "index": thinkingBlockIndex, "content_block": gin.H{"type": "thinking", "thinking": ""}})
			}
			writeAnthropicSSE(c.Writer, "content_block_delta", gin.H{"type": "content_block_delta", "index": thinkingBlockIndex, "delta": gin.H{"type": "thinking_delta", "thinking": ev.ThinkingDelta}})
		case chatmodel.EventTextDelta:
			if thinkingBlockIndex >= 0 {
				writeAnthropicSSE(c.Writer, "content_block_stop", gin.H{"type": "content_block_stop", "index": thinkingBlockIndex})
				thinkingBlockIndex = -1
			}
			if textBlockIndex < 0 {
				textBlockIndex = nextIndex
				nextIndex++
				writeAnthropicSSE(c.Writer, "content_block_start", gin.H{"type": "content_block_start", "index": textBlockIndex, "content_block": gin.H{"type": "text", "text": ""}})
			}
			writeAnthropicSSE(c.Writer, "content_block_delta", gin.H{"type": "content_block_delta", "index": textBlockIndex, "delta": gin.H{"type": "text_delta", "text": ev.TextDelta}})
		case chatmodel.EventToolCallStart:
			idx := nextIndex
			nextIndex++
			toolBlockIndex[ev.ToolCallIndex] = idx
			writeAnthropicSSE(c.Writer, "content_block_start", gin.H{"type": "content_block_start", "index": idx, "content_block": gin.H{"type": "tool_use", "id": ev.ToolCallID, "name": ev.ToolCallName}})
		case chatmodel.EventToolCallDelta:
			writeAnthropicSSE(c.Writer, "content_block_delta", gin.H{"type": "content_block_delta", "index": toolBlockIndex[ev.ToolCallIndex], "delta": gin.H{"type": "input_json_delta", "partial_json": ev.ArgsDelta}})
		case chatmodel.EventToolCallEnd:
			writeAnthropicSSE(c.Writer, "content_block_stop", gin.H{"type": "content_block_stop", "index": toolBlockIndex[ev.ToolCallIndex]})
		case chatmodel.EventDone:
			if thinkingBlockIndex >= 0 {
				writeAnthropicSSE(c.Writer, "content_block_stop", gin.H{"type": "content_block_stop", "index": thinkingBlockIndex})
				thinkingBlockIndex = -1
			}
			if textBlockIndex >= 0 {
				writeAnthropicSSE(c.Writer, "content_block_stop", gin.H{"type": "content_block_stop", "index": textBlockIndex})
				textBlockIndex = -1
			}
			writeAnthropicSSE(c.Writer, "message_delta", gin.H{"type": "message_delta", "delta": gin.H{"stop_reason": anthropicStopReason(ev.Message.StopReason)}})
			writeAnthropicSSE(c.Writer, "message_stop", gin.H{"type": "message_stop"})
		}
		flusher.Flush()
	}

	if err := <-errc; err != nil {
		writeAnthropicSSE(c.Writer, "error", gin.H{"type": "error", "error": gin.H{"type": "api_error", "message": err.Error()}})
		flusher.Flush()
	}
}

func writeAnthropicSSE(w http.ResponseWriter, event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
}
