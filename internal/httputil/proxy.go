// Package httputil builds the outbound HTTP clients used by the OAuth
// engine and provider adapters, applying an optional proxy configured on
// the gateway's server config.
package httputil

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

var (
	mu       sync.RWMutex
	proxyURL string
)

// SetProxyURL records the proxy URL (http://, https://, or socks5://) every
// client built by NewClient after this call should route through. Called
// once at startup from the configured server config; an empty string
// disables proxying for subsequently-built clients.
func SetProxyURL(raw string) {
	mu.Lock()
	proxyURL = raw
	mu.Unlock()
}

// NewClient builds an *http.Client with the given timeout, routed through
// the configured proxy (if any). Mirrors the reference project's
// per-client SetProxy helper, but resolves the proxy URL from the
// package-level setting rather than a threaded config argument so every
// adapter constructor can stay a plain no-arg builder.
func NewClient(timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	mu.RLock()
	raw := proxyURL
	mu.RUnlock()
	if raw == "" {
		return client
	}
	transport, err := transportFor(raw)
	if err != nil || transport == nil {
		return client
	}
	client.Transport = transport
	return client
}

func transportFor(raw string) (*http.Transport, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch parsed.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}, nil
	case "http", "https":
		return &http.Transport{Proxy: http.ProxyURL(parsed)}, nil
	default:
		return nil, nil
	}
}
