package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewContext(t *testing.T) {
	t.Parallel()

	pc, err := NewContext()
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	if len(pc.Verifier) != 43 {
		t.Fatalf("verifier length = %d, want 43", len(pc.Verifier))
	}
	sum := sha256.Sum256([]byte(pc.Verifier))
	if pc.Challenge != base64.RawURLEncoding.EncodeToString(sum[:]) {
		t.Fatal("challenge is not the S256 digest of the verifier")
	}
	if pc.Method != "S256" || !pc.VerifyChallenge() {
		t.Fatalf("unexpected method %q or bad challenge", pc.Method)
	}
	if strings.ContainsAny(pc.Verifier+pc.State+pc.Nonce, "+/=") {
		t.Fatal("random values must be URL-safe without padding")
	}
	if pc.DeviceID == "" || pc.ClientRequestID == "" || pc.DeviceID == pc.ClientRequestID {
		t.Fatalf("unexpected ids %q %q", pc.DeviceID, pc.ClientRequestID)
	}
	if err = ValidateState(pc.State); err != nil {
		t.Fatalf("generated state fails validation: %v", err)
	}

	other, _ := NewContext()
	if other.Verifier == pc.Verifier || other.State == pc.State {
		t.Fatal("contexts must not repeat")
	}
	pc.Challenge = other.Challenge
	if pc.VerifyChallenge() {
		t.Fatal("VerifyChallenge() should reject a mismatched challenge")
	}
}

func TestAuthURL(t *testing.T) {
	t.Parallel()

	c := NewClient(Provider{
		ClientID:    "client-1",
		AuthURL:     "https://idp.test/authorize",
		TokenURL:    "https://idp.test/token",
		RedirectURI: "https://app.test/cb",
		Scopes:      []string{"openid", "offline_access"},
		ExtraParams: map[string]string{"prompt": "login"},
	})
	pc, _ := NewContext()
	raw, err := c.AuthURL(context.Background(), pc)
	if err != nil {
		t.Fatalf("AuthURL() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if u.Host != "idp.test" || u.Path != "/authorize" {
		t.Fatalf("unexpected auth url %s", raw)
	}
	q := u.Query()
	want := map[string]string{
		"client_id":             "client-1",
		"response_type":         "code",
		"redirect_uri":          "https://app.test/cb",
		"scope":                 "openid offline_access",
		"code_challenge":        pc.Challenge,
		"code_challenge_method": "S256",
		"state":                 pc.State,
		"nonce":                 pc.Nonce,
		"client_request_id":     pc.ClientRequestID,
		"device_id":             pc.DeviceID,
		"timestamp":             fmt.Sprint(pc.CreatedAt.UnixMilli()),
		"prompt":                "login",
	}
	for key, value := range want {
		if got := q.Get(key); got != value {
			t.Fatalf("param %s = %q, want %q", key, got, value)
		}
	}
}

func TestAuthURLRequiresClientID(t *testing.T) {
	t.Parallel()

	pc, _ := NewContext()
	if _, err := NewClient(Provider{}).AuthURL(context.Background(), pc); !errors.Is(err, ErrClientIDRequired) {
		t.Fatalf("AuthURL() error = %v, want ErrClientIDRequired", err)
	}
}

func tokenServer(t *testing.T, handler func(form url.Values) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		status, body := handler(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExchange(t *testing.T) {
	t.Parallel()

	pc, _ := NewContext()
	srv := tokenServer(t, func(form url.Values) (int, any) {
		if form.Get("grant_type") != "authorization_code" || form.Get("code") != "the-code" {
			return http.StatusBadRequest, map[string]string{"error": "invalid_request"}
		}
		if form.Get("code_verifier") != pc.Verifier || form.Get("client_id") != "client-1" {
			return http.StatusBadRequest, map[string]string{"error": "invalid_grant"}
		}
		return http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"id_token":      "id-1",
			"token_type":    "Bearer",
			"expires_in":    1800,
		}
	})
	c := NewClient(Provider{ClientID: "client-1", TokenURL: srv.URL, AuthURL: srv.URL}, WithHTTPClient(srv.Client()))
	before := time.Now()
	tokens, err := c.Exchange(context.Background(), "the-code", pc)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if tokens.AccessToken != "access-1" || tokens.RefreshToken != "refresh-1" || tokens.IDToken != "id-1" {
		t.Fatalf("Exchange() = %+v", tokens)
	}
	if tokens.ExpiresAt.Before(before.Add(1790*time.Second)) || tokens.ExpiresAt.After(time.Now().Add(1810*time.Second)) {
		t.Fatalf("unexpected expiry %v", tokens.ExpiresAt)
	}
}

func TestExchangeSurfacesProviderBody(t *testing.T) {
	t.Parallel()

	srv := tokenServer(t, func(url.Values) (int, any) {
		return http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "code expired"}
	})
	c := NewClient(Provider{ClientID: "client-1", TokenURL: srv.URL, AuthURL: srv.URL}, WithHTTPClient(srv.Client()))
	pc, _ := NewContext()
	_, err := c.Exchange(context.Background(), "stale", pc)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Exchange() error = %v, want *ProviderError", err)
	}
	if pe.StatusCode != http.StatusBadRequest || pe.Code != "invalid_grant" || !strings.Contains(pe.Body, "code expired") {
		t.Fatalf("ProviderError = %+v", pe)
	}
	if !strings.Contains(err.Error(), "code expired") {
		t.Fatalf("error message should carry the provider body: %v", err)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	var rotate atomic.Bool
	srv := tokenServer(t, func(form url.Values) (int, any) {
		if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "refresh-1" {
			return http.StatusBadRequest, map[string]string{"error": "invalid_grant"}
		}
		resp := map[string]any{"access_token": "access-2", "expires_in": 600}
		if rotate.Load() {
			resp["refresh_token"] = "refresh-2"
		}
		return http.StatusOK, resp
	})
	c := NewClient(Provider{ClientID: "client-1", TokenURL: srv.URL, AuthURL: srv.URL}, WithHTTPClient(srv.Client()))

	tokens, err := c.Refresh(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tokens.AccessToken != "access-2" || tokens.RefreshToken != "refresh-1" {
		t.Fatalf("Refresh() without rotation = %+v", tokens)
	}
	rotate.Store(true)
	tokens, _ = c.Refresh(context.Background(), "refresh-1")
	if tokens.RefreshToken != "refresh-2" {
		t.Fatalf("Refresh() with rotation = %+v", tokens)
	}

	if _, err = c.Refresh(context.Background(), "wrong"); err == nil {
		t.Fatal("Refresh() should fail for an unknown refresh token")
	}
	if _, err = c.Refresh(context.Background(), ""); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("Refresh(\"\") error = %v", err)
	}
}

func TestEndpointResolution(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(Metadata{
			Issuer:                "https://idp.test",
			AuthorizationEndpoint: "https://idp.test/discovered/auth",
			TokenEndpoint:         "https://idp.test/discovered/token",
		})
	}))
	defer srv.Close()

	discovery := NewDiscovery(srv.Client(), time.Minute)
	discovered := NewClient(Provider{ClientID: "c", DiscoveryURL: srv.URL}, WithHTTPClient(srv.Client()), WithDiscovery(discovery))
	overridden := NewClient(Provider{ClientID: "c", DiscoveryURL: srv.URL, TokenURL: "https://override.test/token"}, WithDiscovery(discovery))
	fallback := NewClient(Provider{ClientID: "c"})

	ctx := context.Background()
	if ep := discovered.Endpoint(ctx); ep.TokenURL != "https://idp.test/discovered/token" || ep.AuthURL != "https://idp.test/discovered/auth" {
		t.Fatalf("discovered endpoint = %+v", ep)
	}
	if ep := overridden.Endpoint(ctx); ep.TokenURL != "https://override.test/token" || ep.AuthURL != "https://idp.test/discovered/auth" {
		t.Fatalf("overridden endpoint = %+v", ep)
	}
	if ep := fallback.Endpoint(ctx); ep.TokenURL != DefaultTokenURL || ep.AuthURL != DefaultAuthURL {
		t.Fatalf("default endpoint = %+v", ep)
	}
	if hits.Load() != 1 {
		t.Fatalf("discovery fetched %d times, want 1 (cached)", hits.Load())
	}
}

func TestDiscoveryDeduplicatesConcurrentFetches(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(Metadata{TokenEndpoint: "https://idp.test/token"})
	}))
	defer srv.Close()

	d := NewDiscovery(srv.Client(), time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Fetch(context.Background(), srv.URL+"/.well-known/openid-configuration"); err != nil {
				t.Errorf("Fetch() error = %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if hits.Load() != 1 {
		t.Fatalf("discovery fetched %d times, want 1", hits.Load())
	}
}

func TestPendingConsumeIsOneShot(t *testing.T) {
	t.Parallel()

	p := NewPending(time.Minute)
	pc, _ := NewContext()
	if err := p.Register(pc, "user-1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	got, user, err := p.Consume(pc.State)
	if err != nil || got != pc || user != "user-1" {
		t.Fatalf("Consume() = %v, %q, %v", got, user, err)
	}
	if _, _, err = p.Consume(pc.State); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("second Consume() error = %v, want ErrUnknownState", err)
	}
}

func TestPendingExpires(t *testing.T) {
	t.Parallel()

	p := NewPending(time.Minute)
	now := time.Unix(1700000000, 0)
	p.now = func() time.Time { return now }
	pc, _ := NewContext()
	_ = p.Register(pc, "u")
	now = now.Add(2 * time.Minute)
	if _, _, err := p.Consume(pc.State); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("Consume() after ttl error = %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("Len() = %d", p.Len())
	}
}

func TestValidateState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state   string
		wantErr bool
	}{
		{"abc-DEF_123.x", false},
		{"", true},
		{"a/b", true},
		{"..", true},
		{"has space", true},
		{strings.Repeat("a", 129), true},
	}
	for _, tt := range tests {
		if err := ValidateState(tt.state); (err != nil) != tt.wantErr {
			t.Fatalf("ValidateState(%q) error = %v, wantErr %v", tt.state, err, tt.wantErr)
		}
	}
}

func TestCallbackServer(t *testing.T) {
	t.Parallel()

	srv, err := NewCallbackServer("http://127.0.0.1:0/oauth/callback")
	if err != nil {
		t.Fatalf("NewCallbackServer() error = %v", err)
	}
	if err = srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr() + "/oauth/callback?code=abc&state=xyz")
	if err != nil {
		t.Fatalf("callback request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d", resp.StatusCode)
	}
	result, err := srv.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Code != "abc" || result.State != "xyz" || result.Error != "" {
		t.Fatalf("Wait() = %+v", result)
	}

	if _, err = NewCallbackServer("https://example.com/cb"); err == nil {
		t.Fatal("non-local redirect uris should be rejected")
	}
}
