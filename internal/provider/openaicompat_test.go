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
	"github.com/zeroai/gateway/internal/errs"
)

func testModel(providerID, modelID, baseURL string) ModelDef {
	return ModelDef{ID: modelID, Provider: providerID, BaseURL: baseURL, ContextWindow: 128_000, MaxTokens: 16_384}
}

func TestOpenAICompatChatTranslatesToolConversation(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider("openai", srv.URL, "", AuthBearer)
	req := chatmodel.ChatRequest{
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("hi")}},
			{Role: chatmodel.RoleAssistant, Content: []chatmodel.ContentBlock{
				chatmodel.ToolCallBlock("c1", "t", json.RawMessage(`{"x":1}`)),
			}},
			{Role: chatmodel.RoleToolResult, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("42")}, ToolCallID: "c1", ToolName: "t"},
		},
		Tools: []chatmodel.ToolDef{{Name: "t", Description: "d", Parameters: json.RawMessage(`{"type":"object","properties":{}}`)}},
	}

	msg, err := p.Chat(context.Background(), testModel("openai", "gpt-4o", srv.URL), req, chatmodel.RequestOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if msg == nil || len(msg.Content) == 0 || msg.Content[0].Text != "done" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	var wire struct {
		Messages []struct {
			Role       string          `json:"role"`
			Content    json.RawMessage `json:"content"`
			ToolCallID string          `json:"tool_call_id"`
			Name       string          `json:"name"`
			ToolCalls  []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
		Tools []struct {
			Type     string `json:"type"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(captured, &wire); err != nil {
		t.Fatalf("decode captured body: %v\n%s", err, captured)
	}
	if len(wire.Messages) != 3 {
		t.Fatalf("expected 3 translated messages, got %d", len(wire.Messages))
	}
	assistant := wire.Messages[1]
	if assistant.Role != "assistant" {
		t.Fatalf("message 1 role = %q", assistant.Role)
	}
	if len(assistant.Content) != 0 {
		t.Fatalf("expected no assistant content field when text is empty, got %s", assistant.Content)
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Arguments != `{"x":1}` {
		t.Fatalf("tool call translation: %+v", assistant.ToolCalls)
	}
	if assistant.ToolCalls[0].ID != "c1" || assistant.ToolCalls[0].Type != "function" {
		t.Fatalf("tool call envelope: %+v", assistant.ToolCalls[0])
	}
	toolMsg := wire.Messages[2]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "c1" || toolMsg.Name != "t" {
		t.Fatalf("tool result translation: %+v", toolMsg)
	}
	if len(wire.Tools) != 1 || wire.Tools[0].Function.Name != "t" {
		t.Fatalf("tools translation: %+v", wire.Tools)
	}
}

func TestOpenAICompatStreamParsesDeltasAndUsage(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"c1\",\"function\":{\"name\":\"t\",\"arguments\":\"{\\\"x\\\":\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"1}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":4,\"total_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider("openai", srv.URL, "", AuthBearer)
	req := chatmodel.ChatRequest{Messages: []chatmodel.Message{
		{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("hi")}},
	}}

	events, errc := p.Stream(context.Background(), testModel("openai", "gpt-4o", srv.URL), req, chatmodel.RequestOptions{APIKey: "k"})
	var kinds []chatmodel.StreamEventKind
	var done *chatmodel.AssistantMessage
	for ev := range events {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == chatmodel.EventDone {
			done = ev.Message
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream: %v", err)
	}

	want := []chatmodel.StreamEventKind{
		chatmodel.EventStart,
		chatmodel.EventTextDelta, chatmodel.EventTextDelta,
		chatmodel.EventToolCallStart, chatmodel.EventToolCallDelta, chatmodel.EventToolCallDelta,
		chatmodel.EventToolCallEnd,
		chatmodel.EventDone,
	}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d = %v, want %v (%v)", i, kinds[i], want[i], kinds)
		}
	}
	if done == nil || done.Usage == nil || done.Usage.TotalTokens != 7 {
		t.Fatalf("usage: %+v", done)
	}
	if done.StopReason != chatmodel.StopReasonToolUse {
		t.Fatalf("stop reason = %v", done.StopReason)
	}
	var toolArgs string
	for _, b := range done.Content {
		if b.Kind == chatmodel.BlockToolCall {
			toolArgs = string(b.ToolCallArgs)
		}
	}
	if toolArgs != `{"x":1}` {
		t.Fatalf("accumulated args = %q", toolArgs)
	}

	var wire struct {
		Stream        bool `json:"stream"`
		StreamOptions *struct {
			IncludeUsage bool `json:"include_usage"`
		} `json:"stream_options"`
	}
	if err := json.Unmarshal(captured, &wire); err != nil {
		t.Fatalf("decode captured body: %v", err)
	}
	if !wire.Stream || wire.StreamOptions == nil || !wire.StreamOptions.IncludeUsage {
		t.Fatalf("expected stream with include_usage, got %s", captured)
	}
}

func TestOpenAICompatStreamSurfacesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider("openai", srv.URL, "", AuthBearer)
	events, errc := p.Stream(context.Background(), testModel("openai", "gpt-4o", srv.URL), chatmodel.ChatRequest{}, chatmodel.RequestOptions{APIKey: "k"})
	for range events {
		t.Fatal("no events expected on a pre-stream failure")
	}
	err := <-errc
	ge, ok := errs.AsGatewayError(err)
	if !ok || ge.Status != http.StatusTooManyRequests {
		t.Fatalf("expected structured 429, got %v", err)
	}
	if !ge.HasRetryAfter || ge.RetryAfterMs != 5000 {
		t.Fatalf("expected Retry-After 5000ms, got %+v", ge)
	}
	if !errs.IsRateLimited(err) {
		t.Fatalf("expected rate-limited classification")
	}
}

func TestOpenAICompatListModelsOllamaTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"models":[{"name":"llama3.2:latest"},{"name":"qwen2.5-coder:7b"}]}`)
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider("ollama", srv.URL+"/v1", "", AuthBearer)
	p.ModelsURL = srv.URL + "/api/tags"
	models, err := p.ListModels(context.Background(), "unused")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(models) != 2 || models[0].ID != "llama3.2:latest" {
		t.Fatalf("models: %+v", models)
	}
}

func TestApplyAuthStyles(t *testing.T) {
	cases := []struct {
		name   string
		p      *OpenAICompatProvider
		header string
		want   string
	}{
		{"bearer", NewOpenAICompatProvider("a", "http://x", "", AuthBearer), "Authorization", "Bearer k1"},
		{"x-api-key", NewOpenAICompatProvider("b", "http://x", "", AuthXAPIKey), "x-api-key", "k1"},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodPost, "http://x", nil)
		tc.p.applyAuth(req, "k1")
		if got := req.Header.Get(tc.header); got != tc.want {
			t.Errorf("%s: header %s = %q, want %q", tc.name, tc.header, got, tc.want)
		}
	}

	custom := NewOpenAICompatProvider("c", "http://x", "", AuthCustom)
	custom.CustomHeaderName = "x-token"
	custom.CustomValuePfx = "Token "
	req, _ := http.NewRequest(http.MethodPost, "http://x", nil)
	custom.applyAuth(req, "k1")
	if got := req.Header.Get("x-token"); got != "Token k1" {
		t.Errorf("custom header = %q", got)
	}
}
