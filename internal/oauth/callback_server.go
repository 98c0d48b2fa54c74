package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// callbackResult is what the browser redirect delivered to the local
// listener: the authorization code plus state, or the provider's error.
type callbackResult struct {
	Code  string
	State string
	Error string
}

// callbackServer is a short-lived local HTTP listener for OAuth redirect
// URIs of the form http://localhost:<port><path>. Login flows run it as an
// alternative to the paste-back prompt; whichever produces a code first
// wins.
type callbackServer struct {
	server     *http.Server
	port       int
	path       string
	resultChan chan callbackResult
	errorChan  chan error
	mu         sync.Mutex
	running    bool
}

func newCallbackServer(port int, path string) *callbackServer {
	return &callbackServer{
		port:       port,
		path:       path,
		resultChan: make(chan callbackResult, 1),
		errorChan:  make(chan error, 1),
	}
}

// Start binds the listener. A port already in use is an error; callers
// treat it as "paste-back only" rather than failing the login.
func (s *callbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("oauth: callback server already running")
	}

	addr := fmt.Sprintf("localhost:%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("oauth: bind callback port %d: %w", s.port, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errorChan <- err
		}
	}()
	return nil
}

// Stop shuts the listener down.
func (s *callbackServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Debugf("oauth: callback server shutdown: %v", err)
	}
	s.running = false
	s.server = nil
}

// Result exposes the one-shot channel the redirect handler delivers into.
func (s *callbackServer) Result() <-chan callbackResult { return s.resultChan }

func (s *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := callbackResult{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}

	select {
	case s.resultChan <- result:
	default:
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if result.Error != "" || result.Code == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "<html><body><h3>Authentication failed.</h3><p>You can close this window and retry from the terminal.</p></body></html>")
		return
	}
	fmt.Fprint(w, "<html><body><h3>Authentication complete.</h3><p>You can close this window and return to the terminal.</p></body></html>")
}

// awaitAuthorizationCode races the local callback listener (if one could be
// started) against the paste-back prompt, returning the first authorization
// code either path produces. parsePasted converts the user's pasted value
// (a code, code#state, or full redirect URL, per flow) into a code.
func awaitAuthorizationCode(ctx context.Context, cb Callbacks, srv *callbackServer, prompt Prompt, parsePasted func(string) (string, error)) (string, error) {
	type promptOutcome struct {
		value string
		err   error
	}

	promptCtx, cancelPrompt := context.WithCancel(ctx)
	defer cancelPrompt()

	promptc := make(chan promptOutcome, 1)
	go func() {
		v, err := cb.OnPrompt(promptCtx, prompt)
		promptc <- promptOutcome{value: v, err: err}
	}()

	var resultc <-chan callbackResult
	if srv != nil {
		resultc = srv.Result()
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultc:
		if res.Error != "" {
			return "", fmt.Errorf("oauth: authorization denied: %s", res.Error)
		}
		if res.Code == "" {
			return "", fmt.Errorf("oauth: callback carried no authorization code")
		}
		return res.Code, nil
	case p := <-promptc:
		if p.err != nil {
			return "", p.err
		}
		return parsePasted(p.value)
	}
}
