package oauth

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// AccountRefresher is the minimal slice of the credential store's surface
// the renewal loop needs: enumerate every provider's accounts and persist a
// refreshed one back. Kept as an interface so the oauth package never
// imports internal/store (which itself depends on oauth.Provider).
type AccountRefresher interface {
	// ProviderIDs returns every provider id with at least one account.
	ProviderIDs() ([]string, error)
	// ExpiringOAuthAccounts returns (accountID, credentials) pairs for pid
	// whose OAuth credential expires within bufferMs of nowMs.
	ExpiringOAuthAccounts(pid string, nowMs, bufferMs int64) ([]AccountCredential, error)
	// PersistRefreshed writes back a refreshed credential for accountID.
	PersistRefreshed(pid, accountID string, creds Credentials) error
}

// AccountCredential pairs an account id with its current OAuth credentials,
// used by the renewal loop to request a refresh.
type AccountCredential struct {
	AccountID string
	Creds     Credentials
}

// RenewalLoop periodically refreshes OAuth accounts nearing expiry so that
// dispatch never has to block on a synchronous refresh for a healthy
// account. Renewal failures are logged, not surfaced: the account is left
// alone and the next dispatch either finds a still-valid token or triggers
// its own refresh-on-resolve.
type RenewalLoop struct {
	Registry   *Registry
	Store      AccountRefresher
	IntervalMs int64
	BufferMs   int64
}

// DefaultIntervalMs is the default tick period (900s).
const DefaultIntervalMs = 900_000

// DefaultBufferMs is the default refresh-ahead window (1200s).
const DefaultBufferMs = 1_200_000

// NewRenewalLoop builds a loop with the default interval and buffer.
func NewRenewalLoop(registry *Registry, store AccountRefresher) *RenewalLoop {
	return &RenewalLoop{
		Registry:   registry,
		Store:      store,
		IntervalMs: DefaultIntervalMs,
		BufferMs:   DefaultBufferMs,
	}
}

// Run blocks, ticking every IntervalMs until ctx is cancelled.
func (l *RenewalLoop) Run(ctx context.Context) {
	interval := time.Duration(l.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *RenewalLoop) tick() {
	pids, err := l.Store.ProviderIDs()
	if err != nil {
		log.WithError(err).Warn("oauth: renewal loop failed to list providers")
		return
	}

	now := nowMs()
	for _, pid := range pids {
		provider, ok := l.Registry.Get(pid)
		if !ok {
			continue
		}
		expiring, err := l.Store.ExpiringOAuthAccounts(pid, now, l.BufferMs)
		if err != nil {
			log.WithError(err).Warnf("oauth: renewal loop failed to list accounts for %s", pid)
			continue
		}
		for _, ac := range expiring {
			refreshed, err := provider.Refresh(ac.Creds)
			if err != nil {
				log.WithError(err).Warnf("oauth: background refresh failed for %s account %s", pid, ac.AccountID)
				continue
			}
			if err := l.Store.PersistRefreshed(pid, ac.AccountID, refreshed); err != nil {
				log.WithError(err).Warnf("oauth: failed to persist refreshed token for %s account %s", pid, ac.AccountID)
			}
		}
	}
}
