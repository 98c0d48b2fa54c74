// Package provider implements the four wire-format adapters the dispatch
// core drives: OpenAI-compatible chat completions, Anthropic messages,
// Google Generative AI, and Google Cloud Code Assist (shared by gemini-cli
// and antigravity). Each adapter translates a provider-neutral ChatRequest
// into its own wire format and turns the response back into the internal
// event stream.
package provider

import (
	"context"

	"github.com/zeroai/gateway/internal/chatmodel"
)

// ModelDef describes one model a provider can serve.
type ModelDef struct {
	ID            string
	Name          string
	Provider      string
	BaseURL       string
	Reasoning     bool
	InputModality []string
	ContextWindow int64
	MaxTokens     int64
	ExtraHeaders  map[string]string
}

// Provider is the unified interface every wire-format adapter presents.
// Stream returns a channel of StreamEvent and a channel that carries at
// most one terminal error; both channels are closed when the adapter is
// done producing.
type Provider interface {
	ID() string
	Stream(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (<-chan chatmodel.StreamEvent, <-chan error)
	Chat(ctx context.Context, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (*chatmodel.AssistantMessage, error)
	ListModels(ctx context.Context, apiKey string) ([]ModelDef, error)
}

// ChatViaStream implements Chat on top of Stream for adapters whose wire
// format has no dedicated non-streaming shape worth maintaining separately.
func ChatViaStream(ctx context.Context, p Provider, model ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (*chatmodel.AssistantMessage, error) {
	events, errc := p.Stream(ctx, model, req, opts)
	acc := chatmodel.NewAccumulator()
	for ev := range events {
		if msg := acc.Feed(ev); msg != nil {
			msg.Model = model.ID
			msg.Provider = model.Provider
			return msg, nil
		}
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return nil, nil
}
