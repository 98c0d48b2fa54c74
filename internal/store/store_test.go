package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func TestMigrationFromLegacyCredentials(t *testing.T) {
	s := newTestStore(t)
	cfg := newAppConfig()
	cfg.Credentials["google"] = NewAPIKeyCredential("k1")
	if err := s.Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	accs := loaded.ProviderAccounts["google"].Accounts
	if len(accs) != 1 {
		t.Fatalf("expected 1 migrated account, got %d", len(accs))
	}
	if accs[0].ID != "default" {
		t.Fatalf("expected migrated account id 'default', got %q", accs[0].ID)
	}
}

func TestRateLimitMovesAccountToEndAndSetsUnhealthy(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.AddAccount("google", "a1", NewAPIKeyCredential("k1"))
	if err != nil {
		t.Fatalf("add 1: %v", err)
	}
	id2, err := s.AddAccount("google", "a2", NewAPIKeyCredential("k2"))
	if err != nil {
		t.Fatalf("add 2: %v", err)
	}

	list, err := s.ListAccounts("google")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list[0].ID != id1 || list[1].ID != id2 {
		t.Fatalf("unexpected initial order: %+v", list)
	}

	if err := s.RateLimitAccount("google", id1, 10_000); err != nil {
		t.Fatalf("rate limit: %v", err)
	}

	list2, err := s.ListAccounts("google")
	if err != nil {
		t.Fatalf("list2: %v", err)
	}
	if list2[0].ID != id2 || list2[1].ID != id1 {
		t.Fatalf("expected id1 moved to tail, got %+v", list2)
	}
	if list2[1].UnhealthyUntilMs == nil {
		t.Fatalf("expected unhealthyUntilMs to be set")
	}
}

func TestUseAccountPreservesOtherOrder(t *testing.T) {
	s := newTestStore(t)
	id1, _ := s.AddAccount("openai", "a1", NewAPIKeyCredential("k1"))
	id2, _ := s.AddAccount("openai", "a2", NewAPIKeyCredential("k2"))
	id3, _ := s.AddAccount("openai", "a3", NewAPIKeyCredential("k3"))

	if err := s.UseAccount("openai", id3); err != nil {
		t.Fatalf("use account: %v", err)
	}
	list, err := s.ListAccounts("openai")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{id3, id1, id2}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d: want %s got %s", i, id, list[i].ID)
		}
	}
}

func TestAddAccountAutoLabel(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddAccount("custom:https://api.example.com/v1", "", NewAPIKeyCredential("k1"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	list, err := s.ListAccounts("custom:https://api.example.com/v1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list[0].Label != "https:-1" {
		t.Fatalf("unexpected auto label: %q", list[0].Label)
	}
}

func TestResolveAccountPrefersHealthy(t *testing.T) {
	s := newTestStore(t)
	id1, _ := s.AddAccount("openai", "a1", NewAPIKeyCredential("k1"))
	id2, _ := s.AddAccount("openai", "a2", NewAPIKeyCredential("k2"))
	if err := s.RateLimitAccount("openai", id1, 60_000); err != nil {
		t.Fatalf("rate limit: %v", err)
	}

	sel, err := s.ResolveAccount("openai")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sel == nil || sel.AccountID != id2 {
		t.Fatalf("expected healthy account %s to be chosen, got %+v", id2, sel)
	}
}

func TestCredentialRoundTripJSON(t *testing.T) {
	s := newTestStore(t)
	cred := NewOAuthCredential("r1", "a1", 12345, map[string]interface{}{"projectId": "proj-1"})
	if _, err := s.AddAccount("gemini-cli", "a1", cred); err != nil {
		t.Fatalf("add: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := loaded.ProviderAccounts["gemini-cli"].Accounts[0].Credential
	if got.Kind != KindOAuth || got.Refresh != "r1" || got.Access != "a1" || got.ExpiresMs != 12345 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if pid, _ := got.Extra["projectId"].(string); pid != "proj-1" {
		t.Fatalf("expected projectId to survive round trip, got %+v", got.Extra)
	}

	key, ok := got.Materialize()
	if !ok {
		t.Fatalf("materialize failed")
	}
	if key == "" {
		t.Fatalf("expected non-empty materialized key")
	}
}

func TestConfigPathLayout(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	want := filepath.Join(dir, "config.json")
	if s.path != want {
		t.Fatalf("unexpected path: %s", s.path)
	}
}

func TestConcurrentMutationsSerialise(t *testing.T) {
	s := newTestStore(t)
	const writers = 8

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := s.AddAccount("openai", fmt.Sprintf("w%d", n), NewAPIKeyCredential(fmt.Sprintf("k%d", n))); err != nil {
				t.Errorf("add %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("load after concurrent writes: %v", err)
	}
	if got := len(cfg.ProviderAccounts["openai"].Accounts); got != writers {
		t.Fatalf("expected %d accounts, got %d", writers, got)
	}
	if cfg.Credentials["openai"].Kind != KindAPIKey {
		t.Fatalf("legacy mirror missing after concurrent writes")
	}
}
