package dispatch

import (
	"context"
	"testing"

	"github.com/zeroai/gateway/internal/catalog"
	"github.com/zeroai/gateway/internal/chatmodel"
	"github.com/zeroai/gateway/internal/errs"
	"github.com/zeroai/gateway/internal/provider"
	"github.com/zeroai/gateway/internal/store"
)

func TestSplitModelID(t *testing.T) {
	cases := []struct {
		in       string
		provider string
		model    string
		ok       bool
	}{
		{"openai/gpt-4o", "openai", "gpt-4o", true},
		{"google/gemini-2.5-pro", "google", "gemini-2.5-pro", true},
		{"custom:https://h/v1/llama-3", "custom:https://h", "v1/llama-3", true},
		{"noslash", "", "", false},
		{"/model", "", "", false},
		{"provider/", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		p, m, ok := SplitModelID(tc.in)
		if ok != tc.ok || p != tc.provider || m != tc.model {
			t.Errorf("SplitModelID(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.in, p, m, ok, tc.provider, tc.model, tc.ok)
		}
	}
}

func TestJoinModelID(t *testing.T) {
	if got := JoinModelID("openai", "gpt-4o"); got != "openai/gpt-4o" {
		t.Errorf("JoinModelID = %q", got)
	}
}

// fakeProvider is a scripted Provider used to exercise the dispatch core's
// retry and rotation behaviour without a real upstream.
type fakeProvider struct {
	id string

	chatErrs []error
	chatMsg  *chatmodel.AssistantMessage
	chatCall int

	streamEvents [][]chatmodel.StreamEvent
	streamErrs   []error
	streamCall   int
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Chat(ctx context.Context, model provider.ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (*chatmodel.AssistantMessage, error) {
	i := f.chatCall
	f.chatCall++
	if i < len(f.chatErrs) && f.chatErrs[i] != nil {
		return nil, f.chatErrs[i]
	}
	return f.chatMsg, nil
}

func (f *fakeProvider) Stream(ctx context.Context, model provider.ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (<-chan chatmodel.StreamEvent, <-chan error) {
	i := f.streamCall
	f.streamCall++
	out := make(chan chatmodel.StreamEvent)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		if i < len(f.streamEvents) {
			for _, ev := range f.streamEvents[i] {
				out <- ev
			}
		}
		if i < len(f.streamErrs) && f.streamErrs[i] != nil {
			errc <- f.streamErrs[i]
		}
	}()
	return out, errc
}

func (f *fakeProvider) ListModels(ctx context.Context, apiKey string) ([]provider.ModelDef, error) {
	return nil, nil
}

// fakeStore is a minimal accountResolver scripting account rotation without
// touching disk.
type fakeStore struct {
	accounts     []store.Account
	resolveCalls int
	rateLimited  []string
	selectionSeq []string // account IDs to hand out in order, one per ResolveAccount call
}

func (f *fakeStore) ResolveAccount(pid string) (*store.AccountSelection, error) {
	if f.resolveCalls >= len(f.selectionSeq) {
		return nil, nil
	}
	id := f.selectionSeq[f.resolveCalls]
	f.resolveCalls++
	return &store.AccountSelection{AccountID: id, APIKey: "key-" + id}, nil
}

func (f *fakeStore) RateLimitAccount(pid, accountID string, backoffMs int64) error {
	f.rateLimited = append(f.rateLimited, accountID)
	return nil
}

func (f *fakeStore) ListAccounts(pid string) ([]store.Account, error) {
	return f.accounts, nil
}

func testCatalog(t *testing.T, reg *provider.Registry) *catalog.Catalog {
	t.Helper()
	return catalog.New(reg)
}

func TestCoreChatSucceedsOnFirstAccount(t *testing.T) {
	reg := provider.NewRegistry()
	fp := &fakeProvider{id: "openai", chatMsg: &chatmodel.AssistantMessage{}}
	reg.RegisterCustom("openai", fp)

	cat := testCatalog(t, reg)
	st := &fakeStore{
		accounts:     []store.Account{{ID: "a1"}},
		selectionSeq: []string{"a1"},
	}
	core := New(cat, reg, st)

	msg, err := core.Chat(context.Background(), "openai/gpt-4o", chatmodel.ChatRequest{}, chatmodel.RequestOptions{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if msg.Provider != "openai" || msg.Model != "openai/gpt-4o" {
		t.Fatalf("unexpected stamped ids: %+v", msg)
	}
	if len(st.rateLimited) != 0 {
		t.Fatalf("expected no rotation, got %v", st.rateLimited)
	}
}

func TestCoreChatRotatesOnRateLimit(t *testing.T) {
	reg := provider.NewRegistry()
	rateLimitErr := errs.HTTPUpstream(429, "slow down", 0, false)
	fp := &fakeProvider{
		id:       "openai",
		chatErrs: []error{rateLimitErr, nil},
		chatMsg:  &chatmodel.AssistantMessage{},
	}
	reg.RegisterCustom("openai", fp)

	cat := testCatalog(t, reg)
	st := &fakeStore{
		accounts:     []store.Account{{ID: "a1"}, {ID: "a2"}},
		selectionSeq: []string{"a1", "a2"},
	}
	core := New(cat, reg, st)

	msg, err := core.Chat(context.Background(), "openai/gpt-4o", chatmodel.ChatRequest{}, chatmodel.RequestOptions{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message after rotation")
	}
	if len(st.rateLimited) != 1 || st.rateLimited[0] != "a1" {
		t.Fatalf("expected a1 rotated out, got %v", st.rateLimited)
	}
}

func TestCoreChatNonRetryableStopsImmediately(t *testing.T) {
	reg := provider.NewRegistry()
	authErr := errs.HTTPUpstream(403, "forbidden", 0, false)
	fp := &fakeProvider{id: "openai", chatErrs: []error{authErr}}
	reg.RegisterCustom("openai", fp)

	cat := testCatalog(t, reg)
	st := &fakeStore{
		accounts:     []store.Account{{ID: "a1"}, {ID: "a2"}},
		selectionSeq: []string{"a1", "a2"},
	}
	core := New(cat, reg, st)

	_, err := core.Chat(context.Background(), "openai/gpt-4o", chatmodel.ChatRequest{}, chatmodel.RequestOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(st.rateLimited) != 0 {
		t.Fatalf("non-retryable error must not trigger rotation, got %v", st.rateLimited)
	}
}

func TestCoreChatUnknownModelIsNotFound(t *testing.T) {
	reg := provider.NewRegistry()
	cat := testCatalog(t, reg)
	st := &fakeStore{}
	core := New(cat, reg, st)

	_, err := core.Chat(context.Background(), "nope/ghost-model", chatmodel.ChatRequest{}, chatmodel.RequestOptions{})
	if err == nil {
		t.Fatal("expected not-found error")
	}
	ge, ok := errs.AsGatewayError(err)
	if !ok || ge.Kind != errs.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestCoreStreamStopsRetryingAfterFirstContentEvent(t *testing.T) {
	reg := provider.NewRegistry()
	rateLimitErr := errs.HTTPUpstream(429, "slow down", 0, false)
	fp := &fakeProvider{
		id: "openai",
		streamEvents: [][]chatmodel.StreamEvent{
			{
				{Kind: chatmodel.EventStart},
				{Kind: chatmodel.EventTextDelta, TextDelta: "hi"},
			},
		},
		streamErrs: []error{rateLimitErr},
	}
	reg.RegisterCustom("openai", fp)

	cat := testCatalog(t, reg)
	st := &fakeStore{
		accounts:     []store.Account{{ID: "a1"}, {ID: "a2"}},
		selectionSeq: []string{"a1", "a2"},
	}
	core := New(cat, reg, st)

	out, errc := core.Stream(context.Background(), "openai/gpt-4o", chatmodel.ChatRequest{}, chatmodel.RequestOptions{})
	var events []chatmodel.StreamEvent
	for ev := range out {
		events = append(events, ev)
	}
	err := <-errc
	if err == nil {
		t.Fatal("expected the mid-stream error to surface, not be swallowed by a retry")
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 forwarded events before failure, got %d", len(events))
	}
	if len(st.rateLimited) != 0 {
		t.Fatalf("must not rotate once content has been emitted, got %v", st.rateLimited)
	}
}

func TestCoreStreamRotatesBeforeFirstContentEvent(t *testing.T) {
	reg := provider.NewRegistry()
	rateLimitErr := errs.HTTPUpstream(429, "slow down", 0, false)
	fp := &fakeProvider{
		id: "openai",
		streamEvents: [][]chatmodel.StreamEvent{
			{{Kind: chatmodel.EventStart}},
			{
				{Kind: chatmodel.EventStart},
				{Kind: chatmodel.EventDone, Message: &chatmodel.AssistantMessage{}},
			},
		},
		streamErrs: []error{rateLimitErr, nil},
	}
	reg.RegisterCustom("openai", fp)

	cat := testCatalog(t, reg)
	st := &fakeStore{
		accounts:     []store.Account{{ID: "a1"}, {ID: "a2"}},
		selectionSeq: []string{"a1", "a2"},
	}
	core := New(cat, reg, st)

	out, errc := core.Stream(context.Background(), "openai/gpt-4o", chatmodel.ChatRequest{}, chatmodel.RequestOptions{})
	var events []chatmodel.StreamEvent
	for ev := range out {
		events = append(events, ev)
	}
	if err := <-errc; err != nil {
		t.Fatalf("expected rotation to mask the pre-content failure, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events from the second account, got %d", len(events))
	}
	if len(st.rateLimited) != 1 || st.rateLimited[0] != "a1" {
		t.Fatalf("expected a1 rotated out before content, got %v", st.rateLimited)
	}
}

func TestCoreChatRotatesOnRequestTimeout(t *testing.T) {
	reg := provider.NewRegistry()
	timeoutErr := errs.HTTPUpstream(408, "request timeout", 0, false)
	fp := &fakeProvider{
		id:       "openai",
		chatErrs: []error{timeoutErr, nil},
		chatMsg:  &chatmodel.AssistantMessage{},
	}
	reg.RegisterCustom("openai", fp)

	cat := testCatalog(t, reg)
	st := &fakeStore{
		accounts:     []store.Account{{ID: "a1"}, {ID: "a2"}},
		selectionSeq: []string{"a1", "a2"},
	}
	core := New(cat, reg, st)

	msg, err := core.Chat(context.Background(), "openai/gpt-4o", chatmodel.ChatRequest{}, chatmodel.RequestOptions{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if msg == nil || len(st.rateLimited) != 1 {
		t.Fatalf("expected one rotation on 408, got %v", st.rateLimited)
	}
}

func TestRotationBackoffDefaultsWithoutRetryAfter(t *testing.T) {
	noHeader := errs.HTTPUpstream(429, "slow down", 0, false)
	if got := rotationBackoffMs(noHeader); got != defaultBackoffMs {
		t.Fatalf("backoff without Retry-After = %d, want %d", got, defaultBackoffMs)
	}
	withHeader := errs.HTTPUpstream(429, "slow down", 5000, true)
	if got := rotationBackoffMs(withHeader); got != 5000 {
		t.Fatalf("backoff with Retry-After = %d, want 5000", got)
	}
	hugeHeader := errs.HTTPUpstream(429, "slow down", 120_000, true)
	if got := rotationBackoffMs(hugeHeader); got != 30_000 {
		t.Fatalf("backoff cap = %d, want 30000", got)
	}
}
