// Package chatmodel defines the internal, provider-neutral chat request and
// streaming event types every protocol gateway and provider adapter speaks.
// A ChatRequest enters the dispatch core once; a provider adapter produces a
// sequence of StreamEvents regardless of which of the four wire families
// actually served the request.
package chatmodel

import "encoding/json"

// Role discriminates the three message kinds a ChatRequest carries.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// BlockKind discriminates the tagged ContentBlock union.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockThinking BlockKind = "thinking"
	BlockImage    BlockKind = "image"
	BlockToolCall BlockKind = "tool_call"
)

// ContentBlock is one typed unit of message content. Exactly the fields
// relevant to Kind are populated.
type ContentBlock struct {
	Kind BlockKind

	Text string // BlockText

	Thinking          string // BlockThinking
	ThinkingSignature string // BlockThinking, optional

	ImageMimeType string // BlockImage
	ImageBase64   string // BlockImage

	ToolCallID   string          // BlockToolCall
	ToolCallName string          // BlockToolCall
	ToolCallArgs json.RawMessage // BlockToolCall, parsed JSON arguments
}

// TextBlock builds a BlockText content block.
func TextBlock(text string) ContentBlock { return ContentBlock{Kind: BlockText, Text: text} }

// ThinkingBlock builds a BlockThinking content block.
func ThinkingBlock(text, signature string) ContentBlock {
	return ContentBlock{Kind: BlockThinking, Thinking: text, ThinkingSignature: signature}
}

// ImageBlock builds a BlockImage content block.
func ImageBlock(mimeType, base64Data string) ContentBlock {
	return ContentBlock{Kind: BlockImage, ImageMimeType: mimeType, ImageBase64: base64Data}
}

// ToolCallBlock builds a BlockToolCall content block.
func ToolCallBlock(id, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolCall, ToolCallID: id, ToolCallName: name, ToolCallArgs: args}
}

// Message is one turn in a ChatRequest's history.
type Message struct {
	Role Role

	// User / Assistant
	Content []ContentBlock

	// ToolResult
	ToolCallID string
	ToolName   string
	IsError    bool
}

// ToolDef is a tool the model may call, in provider-neutral form: a JSON
// Schema object describing its parameters.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ReasoningLevel is the logical thinking-effort level a caller may request,
// mapped by each adapter to its own provider-specific representation.
type ReasoningLevel string

const (
	ReasoningMinimal ReasoningLevel = "minimal"
	ReasoningLow     ReasoningLevel = "low"
	ReasoningMedium  ReasoningLevel = "medium"
	ReasoningHigh    ReasoningLevel = "high"
)

// ChatRequest is the internal, provider-neutral request every adapter
// consumes.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDef
}

// RequestOptions carries per-call knobs that are not part of the
// conversation itself.
type RequestOptions struct {
	Temperature  *float64
	MaxTokens    *int64
	Reasoning    ReasoningLevel
	APIKey       string
	ExtraHeaders map[string]string
}

// Usage is token accounting for one completed request.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	TotalTokens      int64
}

// StopReason is why generation ended.
type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonToolUse StopReason = "tool_use"
	StopReasonError   StopReason = "error"
	StopReasonAborted StopReason = "aborted"
)

// AssistantMessage is the final accumulated response, independent of
// whether it was produced by a streaming or non-streaming adapter call.
type AssistantMessage struct {
	Content    []ContentBlock
	Model      string
	Provider   string
	Usage      *Usage
	StopReason StopReason
}

// StreamEventKind discriminates the tagged StreamEvent union.
type StreamEventKind string

const (
	EventStart         StreamEventKind = "start"
	EventTextDelta     StreamEventKind = "text_delta"
	EventThinkingDelta StreamEventKind = "thinking_delta"
	EventToolCallStart StreamEventKind = "tool_call_start"
	EventToolCallDelta StreamEventKind = "tool_call_delta"
	EventToolCallEnd   StreamEventKind = "tool_call_end"
	EventDone          StreamEventKind = "done"
	EventError         StreamEventKind = "error"
)

// StreamEvent is one unit of the internal event stream an adapter produces.
type StreamEvent struct {
	Kind StreamEventKind

	TextDelta     string // EventTextDelta
	ThinkingDelta string // EventThinkingDelta

	ToolCallIndex int           // EventToolCallStart/Delta/End
	ToolCallID    string        // EventToolCallStart
	ToolCallName  string        // EventToolCallStart
	ArgsDelta     string        // EventToolCallDelta
	ToolCall      *ContentBlock // EventToolCallEnd, Kind==BlockToolCall

	Message *AssistantMessage // EventDone / EventError
}
