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

func TestCloudCodeRouting(t *testing.T) {
	var captured []byte
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":2,\"candidatesTokenCount\":1,\"totalTokenCount\":3}}}\n\n")
	}))
	defer srv.Close()

	p := NewGeminiCLIProvider()
	key := `{"token":"ya29.xyz","projectId":"proj-1"}`
	req := chatmodel.ChatRequest{Messages: []chatmodel.Message{
		{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("hi")}},
	}}
	events, errc := p.Stream(context.Background(), testModel("gemini-cli", "gemini-2.5-pro", srv.URL), req, chatmodel.RequestOptions{APIKey: key})
	var done *chatmodel.AssistantMessage
	for ev := range events {
		if ev.Kind == chatmodel.EventDone {
			done = ev.Message
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream: %v", err)
	}
	if done == nil || len(done.Content) == 0 || done.Content[0].Text != "ok" {
		t.Fatalf("done: %+v", done)
	}

	if gotAuth != "Bearer ya29.xyz" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotPath != "/v1internal:streamGenerateContent" || gotQuery != "alt=sse" {
		t.Fatalf("url = %s?%s", gotPath, gotQuery)
	}

	var wire struct {
		Project string `json:"project"`
		Model   string `json:"model"`
		Request struct {
			Contents []json.RawMessage `json:"contents"`
		} `json:"request"`
	}
	if err := json.Unmarshal(captured, &wire); err != nil {
		t.Fatalf("decode captured: %v", err)
	}
	if wire.Project != "proj-1" || wire.Model != "gemini-2.5-pro" {
		t.Fatalf("envelope: %+v", wire)
	}
	if len(wire.Request.Contents) != 1 {
		t.Fatalf("contents: %+v", wire.Request)
	}
}

func TestCloudCodeRejectsMalformedCredential(t *testing.T) {
	p := NewGeminiCLIProvider()
	events, errc := p.Stream(context.Background(), testModel("gemini-cli", "gemini-2.5-pro", ""), chatmodel.ChatRequest{}, chatmodel.RequestOptions{APIKey: "just-a-token"})
	for range events {
	}
	err := <-errc
	ge, ok := errs.AsGatewayError(err)
	if !ok || ge.Kind != errs.KindAuthRequired {
		t.Fatalf("expected AuthRequired for a non-envelope key, got %v", err)
	}
}

func TestAntigravitySystemPreambleAndHeaders(t *testing.T) {
	var captured []byte
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]},\"finishReason\":\"STOP\"}]}}\n\n")
	}))
	defer srv.Close()

	p := NewAntigravityProvider()
	key := `{"token":"ya29.xyz","projectId":"proj-1"}`
	req := chatmodel.ChatRequest{
		SystemPrompt: "caller system",
		Messages: []chatmodel.Message{
			{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("hi")}},
		},
	}
	events, errc := p.Stream(context.Background(), testModel("antigravity", "gemini-3-pro-preview", srv.URL), req, chatmodel.RequestOptions{APIKey: key})
	for range events {
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream: %v", err)
	}

	if ua == "" {
		t.Fatal("expected an antigravity User-Agent")
	}
	var wire struct {
		Request struct {
			SystemInstruction struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
		} `json:"request"`
	}
	if err := json.Unmarshal(captured, &wire); err != nil {
		t.Fatalf("decode captured: %v", err)
	}
	parts := wire.Request.SystemInstruction.Parts
	if len(parts) != 2 || parts[0].Text != antigravitySystemPreamble || parts[1].Text != "caller system" {
		t.Fatalf("system instruction parts: %+v", parts)
	}
	if wire.Request.SystemInstruction.Role != "user" {
		t.Fatalf("system instruction role = %q", wire.Request.SystemInstruction.Role)
	}
}

func TestIsGemini3(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"gemini-3-pro-preview", true},
		{"gemini-3-flash-preview", true},
		{"gemini-2.5-pro", false},
		{"gemini-2.0-flash", false},
	}
	for _, tc := range cases {
		if got := isGemini3(tc.id); got != tc.want {
			t.Errorf("isGemini3(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestThinkingBudgetLevels(t *testing.T) {
	cases := []struct {
		level chatmodel.ReasoningLevel
		want  int64
	}{
		{chatmodel.ReasoningMinimal, 1024},
		{chatmodel.ReasoningLow, 2048},
		{chatmodel.ReasoningMedium, 8192},
		{chatmodel.ReasoningHigh, 16384},
	}
	for _, tc := range cases {
		if got := thinkingBudgetFor(tc.level); got != tc.want {
			t.Errorf("thinkingBudgetFor(%v) = %d, want %d", tc.level, got, tc.want)
		}
	}
}
