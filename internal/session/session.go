// Package session implements the live authentication unit shared by the GraphQL client and the
// hosted service. A Session holds exactly one credential bundle at a time and keeps the derived
// request headers, auth mode and expiry consistent with it.
package session

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/heb-mcp/hebsession/internal/auth/credential"
	"golang.org/x/sync/singleflight"
)

// AuthMode tags how a Session authenticates.
type AuthMode string

const (
	// ModeCookie authenticates with a browser-style Cookie header against the web host.
	ModeCookie AuthMode = "cookie"
	// ModeBearer authenticates with an Authorization header against the mobile GraphQL host.
	ModeBearer AuthMode = "bearer"
)

// Default endpoints for each mode. Both can be overridden per session.
const (
	DefaultWebEndpoint    = "https://www.heb.com/graphql"
	DefaultMobileEndpoint = "https://api-edge.heb-ecom-api.hebdigital-prd.com/graphql"
)

// Default client identification.
const (
	DefaultWebUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	DefaultMobileUserAgent = "HEB/5.9.0 (iPhone; iOS 17.5; Scale/3.00)"
)

// RefreshBuffer is how long before expiry a credential stops counting as valid.
const RefreshBuffer = 60 * time.Second

// AssumeValidWithoutExpiry is the default validity of a credential whose expiry is unknown.
const AssumeValidWithoutExpiry = true

const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	headerCookie        = "Cookie"
	headerUserAgent     = "User-Agent"
	headerClientName    = "x-client-name"
	headerClientVersion = "x-client-version"
)

// ErrNoCredential is returned when a session is constructed without its primary credential.
var ErrNoCredential = errors.New("session: primary credential is missing")

// ClientInfo identifies this client to the backend.
type ClientInfo struct {
	UserAgent string
	Name      string
	Version   string
}

// StoreContext is the active shopping and fulfillment context.
type StoreContext struct {
	StoreID         string `json:"store_id,omitempty"`
	FulfillmentType string `json:"fulfillment_type,omitempty"`
	Address         string `json:"address,omitempty"`
}

// Snapshot is a consistent view of the credential-derived state captured under one read lock.
type Snapshot struct {
	Mode      AuthMode
	Headers   http.Header
	Endpoint  string
	Expiry    time.Time
	HasExpiry bool
}

// Session is safe for concurrent use. The credential, headers and expiry are only ever replaced
// together under mu.
type Session struct {
	mu        sync.RWMutex
	mode      AuthMode
	cookies   credential.CookieBundle
	tokens    credential.TokenBundle
	headers   http.Header
	expiry    time.Time
	hasExpiry bool

	webEndpoint    string
	mobileEndpoint string
	client         ClientInfo
	storeCtx       StoreContext
	debug          bool

	refresher   RefreshFunc
	now         func() time.Time
	assumeValid bool

	flight singleflight.Group
}

func newSession(opts []Option) *Session {
	s := &Session{
		webEndpoint:    DefaultWebEndpoint,
		mobileEndpoint: DefaultMobileEndpoint,
		now:            time.Now,
		assumeValid:    AssumeValidWithoutExpiry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewCookieSession builds a cookie-mode session. The expiry is read from the session-auth token
// when it is a JWT; otherwise it stays unknown.
func NewCookieSession(bundle credential.CookieBundle, opts ...Option) (*Session, error) {
	if err := bundle.Validate(); err != nil {
		return nil, errors.Join(ErrNoCredential, err)
	}
	s := newSession(opts)
	s.applyCookiesLocked(bundle.Clone())
	return s, nil
}

// NewTokenSession builds a bearer-mode session.
func NewTokenSession(tokens credential.TokenBundle, opts ...Option) (*Session, error) {
	if err := tokens.Validate(); err != nil {
		return nil, errors.Join(ErrNoCredential, err)
	}
	s := newSession(opts)
	s.applyTokensLocked(tokens)
	return s, nil
}

// UpdateTokens replaces the credential with tokens and re-derives headers and expiry in one step.
// A cookie-mode session is switched to bearer mode. Endpoint overrides, the refresher, the debug
// flag and the store context are preserved.
func (s *Session) UpdateTokens(tokens credential.TokenBundle) error {
	if err := tokens.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.applyTokensLocked(tokens)
	s.mu.Unlock()
	return nil
}

// UpdateCookies replaces the credential with a cookie bundle, switching to cookie mode.
func (s *Session) UpdateCookies(bundle credential.CookieBundle) error {
	if err := bundle.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.applyCookiesLocked(bundle.Clone())
	s.mu.Unlock()
	return nil
}

func (s *Session) applyTokensLocked(tokens credential.TokenBundle) {
	now := s.now()
	expiry, ok := tokens.ResolveExpiry(now)
	s.mode = ModeBearer
	s.tokens = tokens.Pin(now)
	s.cookies = credential.CookieBundle{}
	s.expiry, s.hasExpiry = expiry, ok

	h := make(http.Header)
	h.Set(headerAuthorization, tokens.AuthorizationHeader())
	h.Set(headerContentType, "application/json")
	s.setClientHeaders(h, DefaultMobileUserAgent)
	s.headers = h
}

func (s *Session) applyCookiesLocked(bundle credential.CookieBundle) {
	expiry, ok := bundle.Expiry()
	s.mode = ModeCookie
	s.cookies = bundle
	s.tokens = credential.TokenBundle{}
	s.expiry, s.hasExpiry = expiry, ok

	h := make(http.Header)
	h.Set(headerContentType, "application/json")
	h.Set(headerCookie, bundle.Header())
	s.setClientHeaders(h, DefaultWebUserAgent)
	s.headers = h
}

func (s *Session) setClientHeaders(h http.Header, defaultUA string) {
	ua := strings.TrimSpace(s.client.UserAgent)
	if ua == "" {
		ua = defaultUA
	}
	h.Set(headerUserAgent, ua)
	if name := strings.TrimSpace(s.client.Name); name != "" {
		h.Set(headerClientName, name)
	}
	if version := strings.TrimSpace(s.client.Version); version != "" {
		h.Set(headerClientVersion, version)
	}
}

// Mode returns the current auth mode.
func (s *Session) Mode() AuthMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Headers returns a copy of the derived request headers.
func (s *Session) Headers() http.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers.Clone()
}

// Expiry returns the resolved expiry; false means unknown.
func (s *Session) Expiry() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiry, s.hasExpiry
}

// Tokens returns the current token bundle and whether the session is in bearer mode.
func (s *Session) Tokens() (credential.TokenBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, s.mode == ModeBearer
}

// Cookies returns a copy of the current cookie bundle and whether the session is in cookie mode.
func (s *Session) Cookies() (credential.CookieBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookies.Clone(), s.mode == ModeCookie
}

// Endpoint returns the GraphQL endpoint for the current mode.
func (s *Session) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpointLocked()
}

func (s *Session) endpointLocked() string {
	if s.mode == ModeBearer {
		return s.mobileEndpoint
	}
	return s.webEndpoint
}

// WebEndpoint returns the web GraphQL endpoint regardless of mode.
func (s *Session) WebEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webEndpoint
}

// Snapshot captures headers, endpoint, mode and expiry atomically.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Mode:      s.mode,
		Headers:   s.headers.Clone(),
		Endpoint:  s.endpointLocked(),
		Expiry:    s.expiry,
		HasExpiry: s.hasExpiry,
	}
}

// Context returns the active store context.
func (s *Session) Context() StoreContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storeCtx
}

// SetContext replaces the active store context.
func (s *Session) SetContext(ctx StoreContext) {
	s.mu.Lock()
	s.storeCtx = ctx
	s.mu.Unlock()
}

// Debug reports whether verbose logging was requested for this session.
func (s *Session) Debug() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debug
}

// CanRefresh reports whether a refresher is attached.
func (s *Session) CanRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresher != nil
}

// IsValid reports whether the primary credential is present and, when its expiry is known,
// more than RefreshBuffer away from expiring.
func (s *Session) IsValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.mode {
	case ModeBearer:
		if strings.TrimSpace(s.tokens.AccessToken) == "" {
			return false
		}
	case ModeCookie:
		if strings.TrimSpace(s.cookies.SessionAuth) == "" {
			return false
		}
	default:
		return false
	}
	if !s.hasExpiry {
		return s.assumeValid
	}
	return s.now().Before(s.expiry.Add(-RefreshBuffer))
}
