package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/zeroai/gateway/internal/chatmodel"
	"github.com/zeroai/gateway/internal/provider"
)

func TestLooksLikeReasoningModel(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"deepseek-r1-distill", true},
		{"deepseek/r1", true},
		{"o1-preview", true},
		{"o3-mini", true},
		{"qwen-thinking-32b", true},
		{"magistral-reasoning", true},
		{"gpt-4o", false},
	}
	for _, tc := range cases {
		if got := looksLikeReasoningModel(tc.id); got != tc.want {
			t.Errorf("looksLikeReasoningModel(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestSplitModelIDCatalog(t *testing.T) {
	p, m, ok := SplitModelID("openai/gpt-4o")
	if !ok || p != "openai" || m != "gpt-4o" {
		t.Fatalf("got (%q, %q, %v)", p, m, ok)
	}
	p, m, ok = SplitModelID("custom:https://host:8080/llama-3")
	if !ok || p != "custom:https://host:8080" || m != "llama-3" {
		t.Fatalf("custom id: got (%q, %q, %v)", p, m, ok)
	}
	for _, bad := range []string{"", "/m", "p/", "noslash"} {
		if _, _, ok := SplitModelID(bad); ok {
			t.Errorf("SplitModelID(%q) unexpectedly ok", bad)
		}
	}
}

func TestLookupStaticTable(t *testing.T) {
	c := New(provider.NewRegistry())
	def, ok := c.Lookup("anthropic/claude-3-5-sonnet-20241022")
	if !ok {
		t.Fatal("expected static anthropic entry")
	}
	if def.Provider != "anthropic" || def.ContextWindow == 0 {
		t.Fatalf("def: %+v", def)
	}
	if _, ok := c.Lookup("nope/ghost"); ok {
		t.Fatal("unknown provider must miss")
	}
}

// listingProvider scripts ListModels for dynamic-refresh tests.
type listingProvider struct {
	id     string
	models []provider.ModelDef
}

func (l *listingProvider) ID() string { return l.id }
func (l *listingProvider) Stream(ctx context.Context, model provider.ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (<-chan chatmodel.StreamEvent, <-chan error) {
	out := make(chan chatmodel.StreamEvent)
	errc := make(chan error, 1)
	close(out)
	close(errc)
	return out, errc
}
func (l *listingProvider) Chat(ctx context.Context, model provider.ModelDef, req chatmodel.ChatRequest, opts chatmodel.RequestOptions) (*chatmodel.AssistantMessage, error) {
	return nil, nil
}
func (l *listingProvider) ListModels(ctx context.Context, apiKey string) ([]provider.ModelDef, error) {
	return l.models, nil
}

func TestRefreshDynamicMergesStaticMetadata(t *testing.T) {
	reg := provider.NewRegistry()
	reg.RegisterCustom("openai", &listingProvider{id: "openai", models: []provider.ModelDef{
		{ID: "o3"},            // known: static metadata must be preserved
		{ID: "gpt-99-new"},    // unknown: defaults apply
		{ID: "gpt-99-reason"}, // unknown: heuristic applies
	}})
	c := New(reg)

	if err := c.RefreshDynamic(context.Background(), "openai", "k", ""); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	known, ok := c.Lookup("openai/o3")
	if !ok || !known.Reasoning || known.ContextWindow != 200_000 {
		t.Fatalf("static metadata lost: %+v", known)
	}
	fresh, ok := c.Lookup("openai/gpt-99-new")
	if !ok || fresh.ContextWindow != 128_000 || fresh.MaxTokens != 16_384 || fresh.Reasoning {
		t.Fatalf("defaults not applied: %+v", fresh)
	}
	reasoner, ok := c.Lookup("openai/gpt-99-reason")
	if !ok || !reasoner.Reasoning {
		t.Fatalf("reasoning heuristic not applied: %+v", reasoner)
	}
	// Static entries for the same provider that the live call did not
	// return stay resolvable through the static table itself.
	if _, ok := c.Lookup("openai/gpt-4o"); !ok {
		t.Fatal("static entry should remain resolvable")
	}
}

func TestRefreshDynamicSkipsStaticOnlyProviders(t *testing.T) {
	c := New(provider.NewRegistry())
	if err := c.RefreshDynamic(context.Background(), "anthropic", "k", ""); err != nil {
		t.Fatalf("static-only refresh must be a no-op, got %v", err)
	}
}

func TestRefreshDynamicCustomProvider(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"data":[{"id":"llama-3-custom"}]}`)
	}))
	defer srv.Close()

	c := New(provider.NewRegistry())
	pid := "custom:" + srv.URL
	if err := c.RefreshDynamic(context.Background(), pid, "k", ""); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if gotPath != "/v1/models" {
		t.Fatalf("custom list path = %q, want /v1/models", gotPath)
	}

	def, ok := c.Lookup(pid + "/llama-3-custom")
	if !ok {
		t.Fatalf("custom model not resolvable after refresh")
	}
	if def.Provider != pid || def.BaseURL != srv.URL {
		t.Fatalf("def: %+v", def)
	}
	if def.ContextWindow != 128_000 || def.MaxTokens != 16_384 {
		t.Fatalf("defaults not applied: %+v", def)
	}
}

func TestRefreshDynamicCustomModelsURLOverride(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"data":[{"id":"m1"}]}`)
	}))
	defer srv.Close()

	c := New(provider.NewRegistry())
	pid := "custom:" + srv.URL
	if err := c.RefreshDynamic(context.Background(), pid, "k", srv.URL+"/alt/models"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if gotPath != "/alt/models" {
		t.Fatalf("override ignored, fetched %q", gotPath)
	}
}

func TestRefreshDynamicCustomMalformedBaseURL(t *testing.T) {
	c := New(provider.NewRegistry())
	// A missing or non-http(s) base URL yields an empty list, not an error.
	for _, pid := range []string{"custom:", "custom:   ", "custom:not-a-url"} {
		if err := c.RefreshDynamic(context.Background(), pid, "", ""); err != nil {
			t.Errorf("RefreshDynamic(%q) = %v, want nil", pid, err)
		}
	}
}

func TestCachePersistsDynamicSnapshotAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "models-cache.db")

	reg := provider.NewRegistry()
	reg.RegisterCustom("openai", &listingProvider{id: "openai", models: []provider.ModelDef{{ID: "gpt-99-new"}}})
	c := New(reg)
	if err := c.OpenCache(cachePath); err != nil {
		t.Fatalf("open cache: %v", err)
	}
	if err := c.RefreshDynamic(context.Background(), "openai", "k", ""); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := New(provider.NewRegistry())
	if err := reopened.OpenCache(cachePath); err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	defer reopened.Close()
	if _, ok := reopened.Lookup("openai/gpt-99-new"); !ok {
		t.Fatal("expected cached dynamic snapshot to survive a restart")
	}
}
