package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const callbackSuccessHTML = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Signed in</title></head>
<body style="font-family:sans-serif;text-align:center;margin-top:4em">
<h1>You're signed in</h1><p>You can close this window and return to the terminal.</p>
</body></html>`

// CallbackResult contains the result of the OAuth callback.
type CallbackResult struct {
	// Code is the authorization code received from the identity provider.
	Code string
	// State is the state parameter echoed back by the provider.
	State string
	// Error is the provider's error parameter, or a local reason such as "no_code".
	Error string
}

// CallbackServer is a local HTTP listener that captures the redirect of a CLI login.
type CallbackServer struct {
	redirect *url.URL
	server   *http.Server
	listener net.Listener
	results  chan *CallbackResult
	errs     chan error
	mu       sync.Mutex
	running  bool
}

// NewCallbackServer creates a callback server for redirectURI, which must be an http URL with
// an explicit host and port.
//
// Parameters:
//   - redirectURI: The redirect URI registered with the identity provider
//
// Returns:
//   - *CallbackServer: A new server, not yet listening
//   - error: An error if the redirect URI cannot be served locally
func NewCallbackServer(redirectURI string) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("oauth: parse redirect uri: %w", err)
	}
	if u.Scheme != "http" || u.Port() == "" {
		return nil, fmt.Errorf("oauth: redirect uri %q is not a local http address", redirectURI)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return &CallbackServer{
		redirect: u,
		results:  make(chan *CallbackResult, 1),
		errs:     make(chan error, 1),
	}, nil
}

// Start begins listening on the redirect URI's host and port.
//
// Returns:
//   - error: An error if the port is unavailable or the server is already running
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("oauth: callback server is already running")
	}
	listener, err := net.Listen("tcp", s.redirect.Host)
	if err != nil {
		return fmt.Errorf("oauth: listen on %s: %w", s.redirect.Host, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.redirect.Path, s.handleCallback)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.listener = listener
	s.running = true

	go func() {
		if errServe := s.server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.errs <- fmt.Errorf("oauth: callback server failed: %w", errServe)
		}
	}()
	return nil
}

// Addr returns the bound address, useful when the port was 0.
func (s *CallbackServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the callback server.
func (s *CallbackServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}
	log.Debug("oauth: stopping callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	s.listener = nil
	return err
}

// Wait blocks until a callback arrives, the server fails, ctx ends or timeout passes.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-s.results:
		return result, nil
	case err := <-s.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("oauth: timeout waiting for callback")
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	result := &CallbackResult{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Error: query.Get("error"),
	}
	switch {
	case result.Error != "":
		log.Errorf("oauth: provider returned error: %s", result.Error)
		s.send(result)
		http.Error(w, fmt.Sprintf("Sign-in failed: %s", result.Error), http.StatusBadRequest)
		return
	case result.Code == "":
		result.Error = "no_code"
		s.send(result)
		http.Error(w, "No authorization code received", http.StatusBadRequest)
		return
	case result.State == "":
		result.Error = "no_state"
		s.send(result)
		http.Error(w, "No state parameter received", http.StatusBadRequest)
		return
	}
	s.send(result)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(callbackSuccessHTML)); err != nil {
		log.Errorf("oauth: write success page: %v", err)
	}
}

func (s *CallbackServer) send(result *CallbackResult) {
	select {
	case s.results <- result:
	default:
		log.Warn("oauth: callback result channel is full, result dropped")
	}
}
