// Command server runs the gateway's HTTP API and peripheral OAuth login flows.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/zeroai/gateway/internal/catalog"
	"github.com/zeroai/gateway/internal/config"
	"github.com/zeroai/gateway/internal/dispatch"
	"github.com/zeroai/gateway/internal/gateway"
	"github.com/zeroai/gateway/internal/httputil"
	"github.com/zeroai/gateway/internal/logging"
	"github.com/zeroai/gateway/internal/oauth"
	"github.com/zeroai/gateway/internal/provider"
	"github.com/zeroai/gateway/internal/store"
	"github.com/zeroai/gateway/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	logging.Setup()

	var (
		configPath string
		host       string
		port       int
		loginID    string
		noBrowser  bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to the server config file")
	flag.StringVar(&host, "host", "", "override the configured bind host")
	flag.IntVar(&port, "port", 0, "override the configured bind port")
	flag.StringVar(&loginID, "login", "", "run the OAuth login flow for this provider id and exit")
	flag.BoolVar(&noBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")
	flag.Parse()

	fmt.Printf("gateway %s (%s, built %s)\n", Version, Commit, BuildDate)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if err := logging.SetFileLogging(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	httputil.SetProxyURL(cfg.ProxyURL)

	storeDir := cfg.ConfigDir
	if storeDir == "" {
		storeDir = store.DefaultDir()
	}
	storeDir = expandHome(storeDir)
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		log.Fatalf("failed to create store directory: %v", err)
	}
	st := store.New(storeDir)

	oauthRegistry := oauth.NewRegistry()
	wireRefreshers(st, oauthRegistry)

	if loginID != "" {
		runLogin(st, oauthRegistry, loginID, noBrowser)
		return
	}

	runServer(cfg, configPath, storeDir, st, oauthRegistry)
}

// wireRefreshers registers every OAuth-capable provider with the store so
// ResolveAccount can transparently refresh an expired credential in line.
func wireRefreshers(st *store.Store, reg *oauth.Registry) {
	for _, p := range reg.All() {
		st.Refreshers[p.ID()] = p
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	remainder := strings.TrimPrefix(path, "~")
	remainder = strings.TrimLeft(remainder, "/\\")
	if remainder == "" {
		return home
	}
	return filepath.Join(home, filepath.FromSlash(strings.ReplaceAll(remainder, "\\", "/")))
}

func runServer(cfg *config.Config, configPath, storeDir string, st *store.Store, oauthRegistry *oauth.Registry) {
	reg := provider.NewRegistry()
	cat := catalog.New(reg)
	if err := cat.OpenCache(filepath.Join(storeDir, "models-cache.db")); err != nil {
		log.Warnf("failed to open model catalog cache: %v", err)
	} else {
		defer cat.Close()
	}
	core := dispatch.New(cat, reg, st)

	refreshCatalog(cat, st)

	handlers := &gateway.Handlers{
		Core:          core,
		Catalog:       cat,
		APIKeys:       cfg.APIKeys,
		EnabledModels: st.GetEnabledModels,
	}
	router := gateway.New(handlers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	renewal := oauth.NewRenewalLoop(oauthRegistry, st)
	go renewal.Run(ctx)

	go backgroundCatalogRefresh(ctx, cat, st)

	w, err := watcher.New(configPath, storeDir,
		func(newCfg *config.Config) {
			handlers.APIKeys = newCfg.APIKeys
			httputil.SetProxyURL(newCfg.ProxyURL)
			log.Info("server config reloaded")
		},
		func() {
			refreshCatalog(cat, st)
		},
	)
	if err != nil {
		log.Warnf("failed to start config watcher: %v", err)
	} else if err := w.Start(ctx); err != nil {
		log.Warnf("failed to watch config paths: %v", err)
	} else {
		defer w.Stop()
	}

	addr := cfg.Addr()
	log.Infof("gateway listening on %s", addr)

	errc := make(chan error, 1)
	go func() { errc <- router.Run(addr) }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			log.Fatalf("server exited: %v", err)
		}
	case sig := <-sigc:
		log.Infof("received %s, shutting down", sig)
	}
}

// backgroundCatalogRefresh periodically pulls fresh dynamic model lists so a
// long-running process's catalog doesn't drift from upstream additions.
func backgroundCatalogRefresh(ctx context.Context, cat *catalog.Catalog, st *store.Store) {
	ticker := time.NewTicker(catalog.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCatalog(cat, st)
		}
	}
}

func refreshCatalog(cat *catalog.Catalog, st *store.Store) {
	pids, err := st.ProviderIDs()
	if err != nil {
		log.WithError(err).Warn("failed to list providers for catalog refresh")
		return
	}
	for _, pid := range pids {
		sel, err := st.ResolveAccount(pid)
		if err != nil || sel == nil {
			continue
		}
		modelsURL, _ := st.GetModelsURL(pid)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := cat.RefreshDynamic(ctx, pid, sel.APIKey, modelsURL); err != nil {
			log.WithError(err).Warnf("catalog refresh failed for %s", pid)
		}
		cancel()
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
