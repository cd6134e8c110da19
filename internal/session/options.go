package session

import (
	"strings"
	"time"
)

// Option configures a Session at construction.
type Option func(*Session)

// WithEndpoints overrides the web and mobile GraphQL endpoints. Empty values keep the defaults.
func WithEndpoints(web, mobile string) Option {
	return func(s *Session) {
		if web = strings.TrimSpace(web); web != "" {
			s.webEndpoint = web
		}
		if mobile = strings.TrimSpace(mobile); mobile != "" {
			s.mobileEndpoint = mobile
		}
	}
}

// WithRefresher attaches the callback used by EnsureFresh.
func WithRefresher(fn RefreshFunc) Option {
	return func(s *Session) { s.refresher = fn }
}

// WithClientInfo sets the client identification headers.
func WithClientInfo(info ClientInfo) Option {
	return func(s *Session) { s.client = info }
}

// WithDebug enables verbose logging for the session.
func WithDebug(debug bool) Option {
	return func(s *Session) { s.debug = debug }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStoreContext sets the initial store context.
func WithStoreContext(ctx StoreContext) Option {
	return func(s *Session) { s.storeCtx = ctx }
}

// WithUnknownExpiryPolicy decides whether a credential without a known expiry counts as valid.
func WithUnknownExpiryPolicy(assumeValid bool) Option {
	return func(s *Session) { s.assumeValid = assumeValid }
}
