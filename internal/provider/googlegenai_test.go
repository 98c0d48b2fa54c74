package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zeroai/gateway/internal/chatmodel"
)

func TestGoogleGenAIStreamSeparatesThinkingFromText(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"pondering\",\"thought\":true}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"answer\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":2,\"candidatesTokenCount\":3,\"totalTokenCount\":5}}\n\n")
	}))
	defer srv.Close()

	p := NewGoogleGenAIProvider()
	req := chatmodel.ChatRequest{Messages: []chatmodel.Message{
		{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("hi")}},
	}}
	events, errc := p.Stream(context.Background(), testModel("google", "gemini-2.5-pro", srv.URL), req, chatmodel.RequestOptions{APIKey: "g-key"})

	var thinking, text string
	for ev := range events {
		switch ev.Kind {
		case chatmodel.EventThinkingDelta:
			thinking += ev.ThinkingDelta
		case chatmodel.EventTextDelta:
			text += ev.TextDelta
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream: %v", err)
	}
	if thinking != "pondering" || text != "answer" {
		t.Fatalf("thinking=%q text=%q", thinking, text)
	}
	if !strings.HasSuffix(gotPath, ":streamGenerateContent") {
		t.Fatalf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "alt=sse") || !strings.Contains(gotQuery, "key=g-key") {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestGoogleGenAIToolResultsBecomeFunctionResponses(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]},\"finishReason\":\"STOP\"}]}\n\n")
	}))
	defer srv.Close()

	p := NewGoogleGenAIProvider()
	req := chatmodel.ChatRequest{Messages: []chatmodel.Message{
		{Role: chatmodel.RoleUser, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("hi")}},
		{Role: chatmodel.RoleAssistant, Content: []chatmodel.ContentBlock{
			chatmodel.ToolCallBlock("t_1", "lookup", json.RawMessage(`{"q":"x"}`)),
		}},
		{Role: chatmodel.RoleToolResult, Content: []chatmodel.ContentBlock{chatmodel.TextBlock("42")}, ToolName: "lookup"},
	}}
	events, errc := p.Stream(context.Background(), testModel("google", "gemini-2.5-flash", srv.URL), req, chatmodel.RequestOptions{APIKey: "g-key"})
	for range events {
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream: %v", err)
	}

	var wire struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				FunctionCall *struct {
					Name string `json:"name"`
				} `json:"functionCall"`
				FunctionResponse *struct {
					Name string `json:"name"`
				} `json:"functionResponse"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(captured, &wire); err != nil {
		t.Fatalf("decode captured: %v", err)
	}
	if len(wire.Contents) != 3 {
		t.Fatalf("contents: %d", len(wire.Contents))
	}
	if wire.Contents[1].Role != "model" || wire.Contents[1].Parts[0].FunctionCall == nil {
		t.Fatalf("assistant turn: %+v", wire.Contents[1])
	}
	if wire.Contents[2].Role != "user" || wire.Contents[2].Parts[0].FunctionResponse == nil || wire.Contents[2].Parts[0].FunctionResponse.Name != "lookup" {
		t.Fatalf("tool result turn: %+v", wire.Contents[2])
	}
}

func TestGenerationConfigThinkingMapping(t *testing.T) {
	p := NewGoogleGenAIProvider()

	budgetModel := testModel("google", "gemini-2.5-pro", "")
	budgetModel.Reasoning = true
	cfg := p.buildGenerationConfig(budgetModel, chatmodel.RequestOptions{Reasoning: chatmodel.ReasoningHigh})
	if cfg.ThinkingConfig == nil || cfg.ThinkingConfig.ThinkingBudget == nil || *cfg.ThinkingConfig.ThinkingBudget != 16384 {
		t.Fatalf("budget config: %+v", cfg.ThinkingConfig)
	}
	if cfg.ThinkingConfig.ThinkingLevel != nil {
		t.Fatalf("budget models must not carry a string level")
	}

	levelModel := testModel("google", "gemini-3-pro-preview", "")
	levelModel.Reasoning = true
	cfg = p.buildGenerationConfig(levelModel, chatmodel.RequestOptions{Reasoning: chatmodel.ReasoningLow})
	if cfg.ThinkingConfig == nil || cfg.ThinkingConfig.ThinkingLevel == nil || *cfg.ThinkingConfig.ThinkingLevel != "LOW" {
		t.Fatalf("level config: %+v", cfg.ThinkingConfig)
	}
	if cfg.ThinkingConfig.ThinkingBudget != nil {
		t.Fatalf("gemini-3 models must not carry an integer budget")
	}
}
