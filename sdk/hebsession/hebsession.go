// Package hebsession is the surface GraphQL-calling code uses: build a session from a cookie or
// token bundle, keep it fresh, and resolve logical operation names for its current mode.
package hebsession

import (
	"context"

	"github.com/heb-mcp/hebsession/internal/auth/credential"
	"github.com/heb-mcp/hebsession/internal/catalog"
	"github.com/heb-mcp/hebsession/internal/session"
)

type (
	Session      = session.Session
	Option       = session.Option
	AuthMode     = session.AuthMode
	RefreshFunc  = session.RefreshFunc
	StoreContext = session.StoreContext
	CookieBundle = credential.CookieBundle
	TokenBundle  = credential.TokenBundle
	Operation    = catalog.Operation
)

const (
	ModeCookie = session.ModeCookie
	ModeBearer = session.ModeBearer
)

var (
	ErrUnknownOperation = catalog.ErrUnknownOperation
	ErrRefreshFailed    = session.ErrRefreshFailed

	NewCookieSession = session.NewCookieSession
	NewTokenSession  = session.NewTokenSession

	WithEndpoints    = session.WithEndpoints
	WithRefresher    = session.WithRefresher
	WithClientInfo   = session.WithClientInfo
	WithDebug        = session.WithDebug
	WithStoreContext = session.WithStoreContext
)

// ResolveOperation maps a logical operation name to the persisted query for mode.
func ResolveOperation(name string, mode AuthMode) (Operation, error) {
	return catalog.Resolve(name, mode)
}

// EnsureFresh refreshes s if its bearer credential is about to expire.
func EnsureFresh(ctx context.Context, s *Session) error {
	return s.EnsureFresh(ctx)
}

// IsValid reports whether s holds a credential outside the refresh window.
func IsValid(s *Session) bool {
	return s.IsValid()
}
