package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/zeroai/gateway/internal/oauth"
)

// DefaultDir returns "<home>/.zeroai-gateway".
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".zeroai-gateway")
}

// Store manages reading/writing config.json with an exclusive advisory file
// lock held across every read-modify-write, and atomic temp-file+rename
// writes. It is safe for concurrent use; in-process calls additionally take
// a mutex so two goroutines in this process serialise rather than racing to
// acquire the OS lock.
type Store struct {
	path     string
	lockPath string
	mu       sync.Mutex

	// Refreshers maps a provider id to the OAuthProvider used to refresh an
	// expired OAuth account for that provider. Providers absent from this
	// map cannot be auto-refreshed by resolveAccount.
	Refreshers map[string]oauth.Provider
}

// New creates a Store backed by the config.json file under dir.
func New(dir string) *Store {
	path := filepath.Join(dir, "config.json")
	return &Store{
		path:       path,
		lockPath:   path + ".lock",
		Refreshers: map[string]oauth.Provider{},
	}
}

func (s *Store) withExclusiveLock(f func() error) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create config dir: %w", err)
	}
	_ = os.Chmod(dir, 0o700)

	lockFile, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("store: open lock file: %w", err)
	}
	defer lockFile.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("store: acquire lock: %w", err)
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	return f()
}

func migrateLegacy(cfg *AppConfig) *AppConfig {
	if len(cfg.Credentials) == 0 {
		return cfg
	}
	if cfg.ProviderAccounts == nil {
		cfg.ProviderAccounts = map[string]ProviderAccounts{}
	}
	for pid, cred := range cfg.Credentials {
		entry := cfg.ProviderAccounts[pid]
		if len(entry.Accounts) == 0 {
			entry.Accounts = append(entry.Accounts, Account{
				ID:         "default",
				Label:      "default",
				Credential: cred,
			})
			cfg.ProviderAccounts[pid] = entry
		}
	}
	return cfg
}

func (s *Store) loadUnlocked() (*AppConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newAppConfig(), nil
		}
		return nil, fmt.Errorf("store: read config: %w", err)
	}
	cfg := newAppConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("store: parse config: %w", err)
	}
	if cfg.ProviderAccounts == nil {
		cfg.ProviderAccounts = map[string]ProviderAccounts{}
	}
	if cfg.ProviderModelsURL == nil {
		cfg.ProviderModelsURL = map[string]string{}
	}
	return migrateLegacy(cfg), nil
}

func (s *Store) saveUnlocked(cfg *AppConfig) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create config dir: %w", err)
	}
	_ = os.Chmod(dir, 0o700)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal config: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.tmp-%d", s.path, os.Getpid())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("store: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("store: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	return nil
}

func mirrorFirstToLegacy(cfg *AppConfig, pid string) {
	if cfg.Credentials == nil {
		cfg.Credentials = map[string]Credential{}
	}
	pa, ok := cfg.ProviderAccounts[pid]
	if ok && len(pa.Accounts) > 0 {
		cfg.Credentials[pid] = pa.Accounts[0].Credential
		return
	}
	delete(cfg.Credentials, pid)
}

func ensureAccounts(cfg *AppConfig, pid string) ProviderAccounts {
	return cfg.ProviderAccounts[pid]
}

// Load reads the config, applying legacy migration. A missing file returns
// the zero-value default, never an error.
func (s *Store) Load() (*AppConfig, error) {
	var cfg *AppConfig
	err := s.withExclusiveLock(func() error {
		var loadErr error
		cfg, loadErr = s.loadUnlocked()
		return loadErr
	})
	return cfg, err
}

// Save writes cfg atomically.
func (s *Store) Save(cfg *AppConfig) error {
	return s.withExclusiveLock(func() error {
		return s.saveUnlocked(cfg)
	})
}

func autoLabel(pid string, nextIndex int) string {
	prefix := strings.TrimPrefix(pid, "custom:")
	if idx := strings.IndexByte(prefix, '/'); idx >= 0 {
		prefix = prefix[:idx]
	}
	return fmt.Sprintf("%s-%d", prefix, nextIndex)
}

// AddAccount appends a new account for pid and returns its generated id. When
// label is empty, a label of the form "<providerPrefix>-<n>" is synthesised.
func (s *Store) AddAccount(pid string, label string, cred Credential) (string, error) {
	id := uuid.NewString()
	err := s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		accs := ensureAccounts(cfg, pid)
		l := strings.TrimSpace(label)
		if l == "" {
			l = autoLabel(pid, len(accs.Accounts)+1)
		}
		accs.Accounts = append(accs.Accounts, Account{ID: id, Label: l, Credential: cred})
		cfg.ProviderAccounts[pid] = accs
		mirrorFirstToLegacy(cfg, pid)
		return s.saveUnlocked(cfg)
	})
	return id, err
}

// ListAccounts returns pid's accounts in order.
func (s *Store) ListAccounts(pid string) ([]Account, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.ProviderAccounts[pid].Accounts, nil
}

// UseAccount moves accountID to index 0, preserving the relative order of
// the rest.
func (s *Store) UseAccount(pid, accountID string) error {
	return s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		accs := ensureAccounts(cfg, pid)
		pos := findAccount(accs.Accounts, accountID)
		if pos < 0 {
			return fmt.Errorf("store: account not found: %s", accountID)
		}
		if pos != 0 {
			a := accs.Accounts[pos]
			accs.Accounts = append(accs.Accounts[:pos], accs.Accounts[pos+1:]...)
			accs.Accounts = append([]Account{a}, accs.Accounts...)
		}
		cfg.ProviderAccounts[pid] = accs
		mirrorFirstToLegacy(cfg, pid)
		return s.saveUnlocked(cfg)
	})
}

// RemoveAccount deletes accountID from pid's list.
func (s *Store) RemoveAccount(pid, accountID string) error {
	return s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		accs := ensureAccounts(cfg, pid)
		before := len(accs.Accounts)
		filtered := accs.Accounts[:0]
		for _, a := range accs.Accounts {
			if a.ID != accountID {
				filtered = append(filtered, a)
			}
		}
		accs.Accounts = filtered
		if len(accs.Accounts) == before {
			return fmt.Errorf("store: account not found: %s", accountID)
		}
		cfg.ProviderAccounts[pid] = accs
		mirrorFirstToLegacy(cfg, pid)
		return s.saveUnlocked(cfg)
	})
}

// MoveAccountUp swaps accountID with its predecessor, if any.
func (s *Store) MoveAccountUp(pid, accountID string) error {
	return s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		accs := ensureAccounts(cfg, pid)
		pos := findAccount(accs.Accounts, accountID)
		if pos < 0 {
			return fmt.Errorf("store: account not found: %s", accountID)
		}
		if pos > 0 {
			accs.Accounts[pos], accs.Accounts[pos-1] = accs.Accounts[pos-1], accs.Accounts[pos]
		}
		cfg.ProviderAccounts[pid] = accs
		mirrorFirstToLegacy(cfg, pid)
		return s.saveUnlocked(cfg)
	})
}

// MoveAccountDown swaps accountID with its successor, if any.
func (s *Store) MoveAccountDown(pid, accountID string) error {
	return s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		accs := ensureAccounts(cfg, pid)
		pos := findAccount(accs.Accounts, accountID)
		if pos < 0 {
			return fmt.Errorf("store: account not found: %s", accountID)
		}
		if pos+1 < len(accs.Accounts) {
			accs.Accounts[pos], accs.Accounts[pos+1] = accs.Accounts[pos+1], accs.Accounts[pos]
		}
		cfg.ProviderAccounts[pid] = accs
		mirrorFirstToLegacy(cfg, pid)
		return s.saveUnlocked(cfg)
	})
}

// SetAccountLabel relabels accountID; an empty/whitespace label clears it.
func (s *Store) SetAccountLabel(pid, accountID, label string) error {
	return s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		accs := ensureAccounts(cfg, pid)
		pos := findAccount(accs.Accounts, accountID)
		if pos < 0 {
			return fmt.Errorf("store: account not found: %s", accountID)
		}
		accs.Accounts[pos].Label = strings.TrimSpace(label)
		cfg.ProviderAccounts[pid] = accs
		return s.saveUnlocked(cfg)
	})
}

// RateLimitAccount marks accountID unhealthy until now+backoffMs and moves it
// to the tail of pid's list.
func (s *Store) RateLimitAccount(pid, accountID string, backoffMs int64) error {
	return s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		now := nowMs()
		until := now + backoffMs

		accs := ensureAccounts(cfg, pid)
		pos := findAccount(accs.Accounts, accountID)
		if pos < 0 {
			return fmt.Errorf("store: account not found: %s", accountID)
		}
		a := accs.Accounts[pos]
		a.UnhealthyUntilMs = &until
		a.LastRateLimitedMs = &now
		accs.Accounts = append(accs.Accounts[:pos], accs.Accounts[pos+1:]...)
		accs.Accounts = append(accs.Accounts, a)
		cfg.ProviderAccounts[pid] = accs
		mirrorFirstToLegacy(cfg, pid)
		return s.saveUnlocked(cfg)
	})
}

func findAccount(accs []Account, id string) int {
	for i, a := range accs {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// ResolveAccount picks pid's preferred account (first healthy, else index 0),
// refreshing an expired OAuth credential via the registered Refresher and
// persisting the result, then returns the materialised selection. When no
// accounts exist it falls back to environment-variable and foreign-CLI
// credential discovery, persisting a successful sniff as a new "sniffed"
// account. Returns (nil, nil) when nothing is available.
func (s *Store) ResolveAccount(pid string) (*AccountSelection, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}

	accs := cfg.ProviderAccounts[pid].Accounts
	if len(accs) == 0 {
		return s.resolveViaDiscovery(pid)
	}

	now := nowMs()
	pick := 0
	for i, a := range accs {
		if a.IsHealthyAt(now) {
			pick = i
			break
		}
	}
	chosen := accs[pick]

	if chosen.Credential.IsExpired(now) {
		refresher, ok := s.Refreshers[pid]
		if ok {
			oldCreds := oauth.Credentials{
				Refresh:   chosen.Credential.Refresh,
				Access:    chosen.Credential.Access,
				ExpiresMs: chosen.Credential.ExpiresMs,
				Extra:     chosen.Credential.Extra,
			}
			newCreds, refreshErr := refresher.Refresh(oldCreds)
			if refreshErr != nil {
				log.WithError(refreshErr).Warnf("store: oauth refresh failed for %s account %s", pid, chosen.ID)
			} else {
				chosen.Credential.Access = newCreds.Access
				chosen.Credential.Refresh = newCreds.Refresh
				chosen.Credential.ExpiresMs = newCreds.ExpiresMs
				chosen.Credential.Extra = newCreds.Extra

				persistErr := s.withExclusiveLock(func() error {
					cfg2, loadErr := s.loadUnlocked()
					if loadErr != nil {
						return loadErr
					}
					accs2 := ensureAccounts(cfg2, pid)
					pos := findAccount(accs2.Accounts, chosen.ID)
					if pos >= 0 {
						accs2.Accounts[pos].Credential = chosen.Credential
					}
					cfg2.ProviderAccounts[pid] = accs2
					mirrorFirstToLegacy(cfg2, pid)
					return s.saveUnlocked(cfg2)
				})
				if persistErr != nil {
					log.WithError(persistErr).Warnf("store: failed to persist refreshed token for %s account %s", pid, chosen.ID)
				}
			}
		}
	}

	key, ok := chosen.Credential.Materialize()
	if !ok {
		return nil, nil
	}
	return &AccountSelection{AccountID: chosen.ID, APIKey: key}, nil
}

func (s *Store) resolveViaDiscovery(pid string) (*AccountSelection, error) {
	cred, found := Credential{}, false
	if key, ok := EnvAPIKey(pid); ok {
		cred, found = NewAPIKeyCredential(key), true
	} else if sniffed, ok := SniffExternalCredential(pid); ok {
		cred, found = sniffed, true
	}
	if !found {
		return nil, nil
	}
	id, err := s.AddAccount(pid, "sniffed", cred)
	if err != nil {
		return nil, err
	}
	key, ok := cred.Materialize()
	if !ok {
		return nil, nil
	}
	return &AccountSelection{AccountID: id, APIKey: key}, nil
}

// ProviderIDs returns every provider id with at least one account,
// satisfying oauth.AccountRefresher for the background renewal loop.
func (s *Store) ProviderIDs() ([]string, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cfg.ProviderAccounts))
	for pid, accs := range cfg.ProviderAccounts {
		if len(accs.Accounts) > 0 {
			ids = append(ids, pid)
		}
	}
	return ids, nil
}

// ExpiringOAuthAccounts returns every OAuth account of pid whose credential
// expires within bufferMs of nowMs, satisfying oauth.AccountRefresher.
func (s *Store) ExpiringOAuthAccounts(pid string, nowMs, bufferMs int64) ([]oauth.AccountCredential, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []oauth.AccountCredential
	for _, a := range cfg.ProviderAccounts[pid].Accounts {
		if a.Credential.Kind != KindOAuth {
			continue
		}
		if a.Credential.ExpiresMs-nowMs >= bufferMs {
			continue
		}
		out = append(out, oauth.AccountCredential{
			AccountID: a.ID,
			Creds: oauth.Credentials{
				Refresh:   a.Credential.Refresh,
				Access:    a.Credential.Access,
				ExpiresMs: a.Credential.ExpiresMs,
				Extra:     a.Credential.Extra,
			},
		})
	}
	return out, nil
}

// PersistRefreshed writes back a refreshed OAuth credential for accountID,
// satisfying oauth.AccountRefresher.
func (s *Store) PersistRefreshed(pid, accountID string, creds oauth.Credentials) error {
	return s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		accs := ensureAccounts(cfg, pid)
		pos := findAccount(accs.Accounts, accountID)
		if pos < 0 {
			return fmt.Errorf("store: account not found: %s", accountID)
		}
		accs.Accounts[pos].Credential.Access = creds.Access
		accs.Accounts[pos].Credential.Refresh = creds.Refresh
		accs.Accounts[pos].Credential.ExpiresMs = creds.ExpiresMs
		accs.Accounts[pos].Credential.Extra = creds.Extra
		cfg.ProviderAccounts[pid] = accs
		mirrorFirstToLegacy(cfg, pid)
		return s.saveUnlocked(cfg)
	})
}

// SetEnabledModels replaces the enabled-models list.
func (s *Store) SetEnabledModels(models []string) error {
	return s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		cfg.EnabledModels = models
		return s.saveUnlocked(cfg)
	})
}

// GetEnabledModels returns the enabled-models list.
func (s *Store) GetEnabledModels() ([]string, error) {
	cfg, err := s.Load()
	if err != nil {
		return nil, err
	}
	return cfg.EnabledModels, nil
}

// SetModelsURL sets (or, when url is empty, clears) pid's custom models URL.
func (s *Store) SetModelsURL(pid, url string) error {
	return s.withExclusiveLock(func() error {
		cfg, err := s.loadUnlocked()
		if err != nil {
			return err
		}
		u := strings.TrimSpace(url)
		if u == "" {
			delete(cfg.ProviderModelsURL, pid)
		} else {
			cfg.ProviderModelsURL[pid] = u
		}
		return s.saveUnlocked(cfg)
	})
}

// GetModelsURL returns pid's custom models URL, if set.
func (s *Store) GetModelsURL(pid string) (string, error) {
	cfg, err := s.Load()
	if err != nil {
		return "", err
	}
	return cfg.ProviderModelsURL[pid], nil
}
