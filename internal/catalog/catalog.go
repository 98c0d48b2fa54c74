// Package catalog resolves fullModelID strings ("provider/model") to
// provider.ModelDef, backed by a build-time static table, a live dynamic
// fetch for providers that support one, and a bbolt-backed cache of the
// last successful dynamic fetch so a transient upstream outage doesn't
// blank out the catalog.
package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zeroai/gateway/internal/provider"
)

var dynamicCacheBucket = []byte("dynamic")

// staticOnlyProviders never attempt a live models-list call: either the
// upstream has no such endpoint, or (openai-codex) the OAuth token lacks
// the scope to call it.
var staticOnlyProviders = map[string]bool{
	"anthropic":             true,
	"anthropic-setup-token": true,
	"google":                true,
	"synthetic":             true,
	"cloudflare-ai-gateway": true,
	"github-copilot":        true,
	"amazon-bedrock":        true,
	"openai-codex":          true,
	"gemini-cli":            true,
	"antigravity":           true,
}

func isStaticOnly(providerID string) bool {
	return staticOnlyProviders[providerID]
}

func isCustomProvider(providerID string) bool {
	return strings.HasPrefix(providerID, "custom:")
}

func looksLikeReasoningModel(id string) bool {
	lower := strings.ToLower(id)
	for _, needle := range []string{"thinking", "reason", "-r1", "/r1", "o1", "o3"} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// Catalog holds the static table and the in-memory dynamic snapshots,
// refreshed on demand and invalidated on config hot-reload.
type Catalog struct {
	registry *provider.Registry

	mu      sync.RWMutex
	static  map[string]provider.ModelDef
	dynamic map[string]map[string]provider.ModelDef // providerID -> modelID -> def

	cache *bolt.DB
}

// New builds a Catalog seeded with the static table.
func New(registry *provider.Registry) *Catalog {
	c := &Catalog{
		registry: registry,
		static:   make(map[string]provider.ModelDef),
		dynamic:  make(map[string]map[string]provider.ModelDef),
	}
	for _, def := range StaticModelTable() {
		c.static[fullID(def.Provider, def.ID)] = def
	}
	return c
}

func fullID(providerID, modelID string) string { return providerID + "/" + modelID }

// OpenCache attaches a bbolt-backed persistence layer at path, loading any
// previously-cached dynamic snapshots into memory so a freshly-started
// process doesn't present an empty catalog for the providers it already
// resolved live models for before a restart. Safe to call at most once;
// the caller should Close the catalog on shutdown.
func (c *Catalog) OpenCache(path string) error {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dynamicCacheBucket)
		return err
	}); err != nil {
		db.Close()
		return err
	}

	loaded := make(map[string]map[string]provider.ModelDef)
	if err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(dynamicCacheBucket)
		return b.ForEach(func(k, v []byte) error {
			var byModel map[string]provider.ModelDef
			if err := json.Unmarshal(v, &byModel); err != nil {
				return nil // corrupt/stale entry; skip rather than fail startup
			}
			loaded[string(k)] = byModel
			return nil
		})
	}); err != nil {
		db.Close()
		return err
	}

	c.mu.Lock()
	for providerID, byModel := range loaded {
		c.dynamic[providerID] = byModel
	}
	c.cache = db
	c.mu.Unlock()
	return nil
}

// Close releases the bbolt cache file, if one was opened.
func (c *Catalog) Close() error {
	c.mu.Lock()
	db := c.cache
	c.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

// persistDynamic writes one provider's dynamic snapshot to the cache, if
// persistence is enabled. A write failure doesn't affect the in-memory
// snapshot RefreshDynamic just installed; it only costs the next restart
// a cold catalog for that provider, so the caller is expected to log it
// rather than treat it as a failed refresh.
func (c *Catalog) persistDynamic(providerID string, byModel map[string]provider.ModelDef) error {
	c.mu.RLock()
	db := c.cache
	c.mu.RUnlock()
	if db == nil {
		return nil
	}
	data, err := json.Marshal(byModel)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dynamicCacheBucket).Put([]byte(providerID), data)
	})
}

// Lookup resolves a fullModelID, trying the static table first and then
// any cached dynamic snapshot for that provider.
func (c *Catalog) Lookup(fullModelID string) (provider.ModelDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if def, ok := c.static[fullModelID]; ok {
		return def, true
	}
	providerID, modelID, ok := SplitModelID(fullModelID)
	if !ok {
		return provider.ModelDef{}, false
	}
	if byModel, ok := c.dynamic[providerID]; ok {
		if def, ok := byModel[modelID]; ok {
			return def, true
		}
	}
	return provider.ModelDef{}, false
}

// RefreshDynamic fetches the live model list for providerID (if it
// supports dynamic listing) and replaces its cached snapshot.
func (c *Catalog) RefreshDynamic(ctx context.Context, providerID, apiKey, modelsURL string) error {
	if isStaticOnly(providerID) {
		return nil
	}
	p := c.resolveAdapter(providerID, modelsURL)
	if p == nil {
		return nil
	}

	models, err := p.ListModels(ctx, apiKey)
	if err != nil {
		return err
	}

	byModel := make(map[string]provider.ModelDef, len(models))
	for _, m := range models {
		def := m
		def.Provider = providerID
		if existing, ok := c.staticEntry(providerID, m.ID); ok {
			if def.ContextWindow == 0 {
				def.ContextWindow = existing.ContextWindow
			}
			if def.MaxTokens == 0 {
				def.MaxTokens = existing.MaxTokens
			}
			def.Reasoning = def.Reasoning || existing.Reasoning
		} else {
			if def.ContextWindow == 0 {
				def.ContextWindow = 128_000
			}
			if def.MaxTokens == 0 {
				def.MaxTokens = 16_384
			}
			def.Reasoning = def.Reasoning || looksLikeReasoningModel(m.ID)
		}
		byModel[m.ID] = def
	}

	c.mu.Lock()
	c.dynamic[providerID] = byModel
	c.mu.Unlock()
	if err := c.persistDynamic(providerID, byModel); err != nil {
		return err
	}
	return nil
}

func (c *Catalog) staticEntry(providerID, modelID string) (provider.ModelDef, bool) {
	def, ok := c.static[fullID(providerID, modelID)]
	return def, ok
}

func (c *Catalog) resolveAdapter(providerID, modelsURL string) provider.Provider {
	if isCustomProvider(providerID) {
		baseURL := customBaseURL(providerID)
		if baseURL == "" {
			return nil
		}
		p := provider.NewCustomProvider(providerID, baseURL)
		if modelsURL != "" {
			p.ModelsURL = modelsURL
		}
		return p
	}
	return c.registry.Get(providerID)
}

// customBaseURL extracts the base URL from a custom:<baseURL> provider id.
// A missing or non-http(s) URL returns "", which RefreshDynamic treats as
// an empty model list rather than an error.
func customBaseURL(providerID string) string {
	baseURL := strings.TrimRight(strings.TrimSpace(strings.TrimPrefix(providerID, "custom:")), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return ""
	}
	return baseURL
}

// EnabledModels filters fullModelIDs down to those the catalog can
// currently resolve.
func (c *Catalog) EnabledModels(fullModelIDs []string) []string {
	out := make([]string, 0, len(fullModelIDs))
	for _, id := range fullModelIDs {
		if _, ok := c.Lookup(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// AllIDs returns every fullModelID currently known to the catalog, static
// table entries first followed by whatever each provider's dynamic
// snapshot has cached.
func (c *Catalog) AllIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.static))
	for id := range c.static {
		out = append(out, id)
	}
	for providerID, byModel := range c.dynamic {
		for modelID := range byModel {
			full := fullID(providerID, modelID)
			if _, ok := c.static[full]; ok {
				continue
			}
			out = append(out, full)
		}
	}
	return out
}

// SplitModelID splits "provider/model" on the first slash; empty halves
// reject. For custom:<baseURL> ids the split skips past the URL scheme's
// "://" so the embedded base URL stays on the provider side.
func SplitModelID(fullModelID string) (providerID, modelID string, ok bool) {
	offset := 0
	if strings.HasPrefix(fullModelID, "custom:") {
		if idx := strings.Index(fullModelID, "://"); idx >= 0 {
			offset = idx + len("://")
		}
	}
	idx := strings.IndexByte(fullModelID[offset:], '/')
	if idx < 0 {
		return "", "", false
	}
	idx += offset
	if idx == 0 || idx == len(fullModelID)-1 {
		return "", "", false
	}
	return fullModelID[:idx], fullModelID[idx+1:], true
}

// JoinModelID joins a provider id and short model id.
func JoinModelID(providerID, modelID string) string { return providerID + "/" + modelID }

// RefreshInterval is how often the server re-pulls dynamic snapshots in
// the background, independent of the config-triggered refresh.
const RefreshInterval = 30 * time.Minute
