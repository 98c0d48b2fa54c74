// Package watcher hot-reloads the gateway's two on-disk documents: the YAML
// server-topology file and the JSON credential store. Both are watched with
// fsnotify and deduplicated by content hash, the same way the rest of this
// codebase's ambient stack favours fsnotify over polling for config reload.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/zeroai/gateway/internal/config"
)

// Watcher watches the server config file and the credential store's
// directory, invoking callbacks when either changes.
type Watcher struct {
	configPath     string
	storeDir       string
	onConfigChange func(*config.Config)
	onStoreChange  func()

	fsw *fsnotify.Watcher

	lastConfigHash string
	lastStoreHash  string
}

// New builds a Watcher bound to configPath (the YAML server config) and
// storeDir (the directory holding the JSON credential store's config.json).
func New(configPath, storeDir string, onConfigChange func(*config.Config), onStoreChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configPath:     configPath,
		storeDir:       storeDir,
		onConfigChange: onConfigChange,
		onStoreChange:  onStoreChange,
		fsw:            fsw,
	}, nil
}

// Start watches both paths and begins processing events in a background
// goroutine. It returns once the watches are registered; Stop (or ctx
// cancellation) ends the background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(filepath.Dir(w.configPath)); err != nil {
		log.Errorf("watcher: failed to watch config directory %s: %v", filepath.Dir(w.configPath), err)
		return err
	}
	if err := w.fsw.Add(w.storeDir); err != nil {
		log.Errorf("watcher: failed to watch store directory %s: %v", w.storeDir, err)
		return err
	}
	log.Debugf("watcher: watching config %s and store %s", w.configPath, w.storeDir)

	go w.loop(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Errorf("watcher: fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}
	switch event.Name {
	case w.configPath:
		w.reloadConfig()
	case filepath.Join(w.storeDir, "config.json"):
		w.reloadStore()
	}
}

func (w *Watcher) reloadConfig() {
	data, err := os.ReadFile(w.configPath)
	if err != nil || len(data) == 0 {
		return
	}
	hash := hashBytes(data)
	if hash == w.lastConfigHash {
		return
	}
	w.lastConfigHash = hash

	cfg, err := config.Load(w.configPath)
	if err != nil {
		log.Errorf("watcher: failed to reload server config: %v", err)
		return
	}
	log.Infof("watcher: server config changed, reloading")
	if w.onConfigChange != nil {
		w.onConfigChange(cfg)
	}
}

func (w *Watcher) reloadStore() {
	path := filepath.Join(w.storeDir, "config.json")
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return
	}
	hash := hashBytes(data)
	if hash == w.lastStoreHash {
		return
	}
	w.lastStoreHash = hash

	log.Infof("watcher: credential store changed, reloading catalog")
	if w.onStoreChange != nil {
		w.onStoreChange()
	}
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DebounceInterval is the minimum spacing the caller should enforce between
// consecutive catalog rebuilds triggered by reloadStore, since a credential
// write often fires several fsnotify events in quick succession.
const DebounceInterval = 200 * time.Millisecond
