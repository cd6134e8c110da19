package access

import (
	"context"
	"net/http"
)

// Provider validates credentials for incoming requests.
type Provider interface {
	Identifier() string
	Authenticate(ctx context.Context, r *http.Request) (*Result, *AuthError)
}

// Result conveys authentication outcome.
type Result struct {
	Provider string
	// UserID is the tenant the caller may act on.
	UserID   string
	Metadata map[string]string
}
