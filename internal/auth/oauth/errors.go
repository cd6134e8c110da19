package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrClientIDRequired is a configuration error: the login flow cannot start without a client id.
	ErrClientIDRequired = errors.New("oauth: client id is required")
	// ErrNoRefreshToken is returned when a refresh is attempted without a refresh token.
	ErrNoRefreshToken = errors.New("oauth: no refresh token available")
	// ErrUnknownState is returned when a callback state is not pending, expired, or already used.
	ErrUnknownState = errors.New("oauth: unknown or expired state")
	// ErrInvalidState is returned for state values that are malformed.
	ErrInvalidState = errors.New("oauth: invalid state")
)

// ProviderError is the identity provider rejecting an exchange or refresh. Body is the raw
// response body, surfaced verbatim.
type ProviderError struct {
	Operation  string
	StatusCode int
	Code       string
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("oauth: %s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}
