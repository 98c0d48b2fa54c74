package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zeroai/gateway/internal/chatmodel"
)

func TestAnthropicSetupTokenMimicry(t *testing.T) {
	var captured []byte
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		fmt.Fprint(w, `{"content":[{"type":"tool_use","id":"tu1","name":"Read","input":{"path":"/a"}}],"stop_reason":"tool_use","usage":{"input_tokens":5,"output_tokens":2}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider()
	req := chatmodel.ChatRequest{
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("hello")}},
		},
		Tools: []chatmodel.ToolDef{{Name: "read", Description: "d", Parameters: json.RawMessage(`{"type":"object"}`)}},
	}
	model := testModel("anthropic", "claude-3-5-sonnet-20241022", srv.URL)
	msg, err := p.Chat(context.Background(), model, req, chatmodel.RequestOptions{APIKey: "sk-ant-sid01-abc"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if got := headers.Get("anthropic-beta"); got != anthropicBetaHeader {
		t.Fatalf("anthropic-beta = %q", got)
	}
	if got := headers.Get("user-agent"); got != anthropicClaudeCodeAgent {
		t.Fatalf("user-agent = %q", got)
	}
	if got := headers.Get("x-api-key"); got != "sk-ant-sid01-abc" {
		t.Fatalf("x-api-key = %q", got)
	}

	var wire struct {
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(captured, &wire); err != nil {
		t.Fatalf("decode captured: %v", err)
	}
	if len(wire.System) == 0 || wire.System[0].Text != anthropicSystemPreamble {
		t.Fatalf("system preamble missing: %+v", wire.System)
	}
	if len(wire.Tools) != 1 || wire.Tools[0].Name != "Read" {
		t.Fatalf("tool name not canonicalised: %+v", wire.Tools)
	}

	// The response's canonical name maps back to the client's own casing.
	if len(msg.Content) != 1 || msg.Content[0].ToolCallName != "read" {
		t.Fatalf("response tool name not translated back: %+v", msg.Content)
	}
}

func TestAnthropicPlainKeyNoMimicry(t *testing.T) {
	var captured []byte
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		fmt.Fprint(w, `{"content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider()
	req := chatmodel.ChatRequest{
		SystemPrompt: "be brief",
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("hello")}},
		},
	}
	if _, err := p.Chat(context.Background(), testModel("anthropic", "claude-3-5-haiku-20241022", srv.URL), req, chatmodel.RequestOptions{APIKey: "sk-ant-api03-xyz"}); err != nil {
		t.Fatalf("chat: %v", err)
	}

	if got := headers.Get("anthropic-beta"); got != "" {
		t.Fatalf("unexpected beta header for a plain API key: %q", got)
	}
	if got := headers.Get("anthropic-version"); got != anthropicAPIVersion {
		t.Fatalf("anthropic-version = %q", got)
	}
	var wire struct {
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
	}
	if err := json.Unmarshal(captured, &wire); err != nil {
		t.Fatalf("decode captured: %v", err)
	}
	if len(wire.System) != 1 || wire.System[0].Text != "be brief" {
		t.Fatalf("system blocks: %+v", wire.System)
	}
}

func TestAnthropicStreamToolCallAfterTextBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"type":"message_start","message":{"usage":{"input_tokens":9}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"let me check"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu1","name":"t"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"x\":1}"}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":4}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
	}))
	defer srv.Close()

	p := NewAnthropicProvider()
	events, errc := p.Stream(context.Background(), testModel("anthropic", "claude-3-5-sonnet-20241022", srv.URL), chatmodel.ChatRequest{}, chatmodel.RequestOptions{APIKey: "sk-ant-api03-xyz"})

	var sawToolEnd bool
	var done *chatmodel.AssistantMessage
	for ev := range events {
		switch ev.Kind {
		case chatmodel.EventToolCallEnd:
			sawToolEnd = true
			if ev.ToolCallIndex != 0 {
				t.Fatalf("tool call index = %d, want 0", ev.ToolCallIndex)
			}
			if ev.ToolCall == nil || string(ev.ToolCall.ToolCallArgs) != `{"x":1}` {
				t.Fatalf("tool call end: %+v", ev.ToolCall)
			}
		case chatmodel.EventDone:
			done = ev.Message
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !sawToolEnd {
		t.Fatal("expected an inline ToolCallEnd even though a text block preceded the tool block")
	}
	if done == nil || done.StopReason != chatmodel.StopReasonToolUse {
		t.Fatalf("done: %+v", done)
	}
	if done.Usage == nil || done.Usage.InputTokens != 9 || done.Usage.OutputTokens != 4 {
		t.Fatalf("usage: %+v", done.Usage)
	}
}

func TestClaudeCodeNameTranslation(t *testing.T) {
	cases := []struct{ in, want string }{
		{"read", "Read"},
		{"askuserquestion", "AskUserQuestion"},
		{"webfetch", "WebFetch"},
		{"my_custom_tool", "my_custom_tool"},
	}
	for _, tc := range cases {
		if got := toClaudeCodeName(tc.in); got != tc.want {
			t.Errorf("toClaudeCodeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	declared := []chatmodel.ToolDef{{Name: "ReAd"}}
	if got := fromClaudeCodeName("Read", declared); got != "ReAd" {
		t.Errorf("fromClaudeCodeName should restore the client's own casing, got %q", got)
	}
	if got := fromClaudeCodeName("Grep", declared); got != "Grep" {
		t.Errorf("undeclared names pass through, got %q", got)
	}
}

func TestIsSetupToken(t *testing.T) {
	if !isSetupToken("sk-ant-sid01-xyz") {
		t.Fatal("expected setup token match")
	}
	if isSetupToken("sk-ant-api03-xyz") {
		t.Fatal("plain API key must not match")
	}
}
