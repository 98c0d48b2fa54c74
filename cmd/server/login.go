package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zeroai/gateway/internal/browser"
	"github.com/zeroai/gateway/internal/oauth"
	"github.com/zeroai/gateway/internal/store"
)

// cliCallbacks drives an oauth.Provider's Login flow from a terminal: it
// prints the authorization URL (optionally opening it in a browser) and
// reads prompted values back from stdin.
type cliCallbacks struct {
	noBrowser bool
	reader    *bufio.Reader
}

func newCLICallbacks(noBrowser bool) *cliCallbacks {
	return &cliCallbacks{noBrowser: noBrowser, reader: bufio.NewReader(os.Stdin)}
}

func (c *cliCallbacks) OnAuth(info oauth.AuthInfo) {
	fmt.Println("Open the following URL to authorize this application:")
	fmt.Println(info.URL)
	if info.Instructions != "" {
		fmt.Println(info.Instructions)
	}
	if c.noBrowser {
		return
	}
	if err := browser.OpenURL(info.URL); err != nil {
		log.Debugf("login: could not open browser automatically: %v", err)
	}
}

func (c *cliCallbacks) OnPrompt(ctx context.Context, prompt oauth.Prompt) (string, error) {
	if prompt.Placeholder != "" {
		fmt.Printf("%s [%s]: ", prompt.Message, prompt.Placeholder)
	} else {
		fmt.Printf("%s: ", prompt.Message)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(line)
	if value == "" {
		value = prompt.Placeholder
	}
	return value, nil
}

func (c *cliCallbacks) OnProgress(message string) {
	fmt.Println(message)
}

// runLogin resolves providerID against the OAuth registry, drives its login
// flow from the terminal, and persists the resulting account.
func runLogin(st *store.Store, registry *oauth.Registry, providerID string, noBrowser bool) {
	p, ok := registry.Get(providerID)
	if !ok {
		known := make([]string, 0)
		for _, p := range registry.All() {
			known = append(known, p.ID())
		}
		log.Fatalf("login: unknown provider %q (known: %s)", providerID, strings.Join(known, ", "))
	}

	fmt.Printf("Logging in to %s...\n", p.DisplayName())
	creds, err := p.Login(context.Background(), newCLICallbacks(noBrowser))
	if err != nil {
		log.Fatalf("login: %s authentication failed: %v", providerID, err)
	}

	cred := store.NewOAuthCredential(creds.Refresh, creds.Access, creds.ExpiresMs, creds.Extra)
	accountID, err := st.AddAccount(providerID, "", cred)
	if err != nil {
		log.Fatalf("login: failed to save account: %v", err)
	}

	fmt.Printf("%s account saved (id=%s)\n", p.DisplayName(), accountID)
}
