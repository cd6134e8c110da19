package hebsession

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolveOperation(t *testing.T) {
	t.Parallel()

	bearer, err := ResolveOperation("addToCart", ModeBearer)
	if err != nil {
		t.Fatalf("ResolveOperation(bearer) error = %v", err)
	}
	cookie, err := ResolveOperation("addToCart", ModeCookie)
	if err != nil {
		t.Fatalf("ResolveOperation(cookie) error = %v", err)
	}
	if bearer.Catalog == cookie.Catalog || bearer.Hash == cookie.Hash {
		t.Fatalf("bearer %+v and cookie %+v should come from different catalogs", bearer, cookie)
	}
	if _, err = ResolveOperation("doesNotExist", ModeCookie); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("ResolveOperation() error = %v, want ErrUnknownOperation", err)
	}
}

func TestEnsureFreshAndIsValid(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	refresh := func(context.Context, TokenBundle) (TokenBundle, error) {
		calls.Add(1)
		return TokenBundle{AccessToken: "fresh", ExpiresIn: 1800}, nil
	}
	s, err := NewTokenSession(TokenBundle{AccessToken: "stale", ExpiresAt: time.Now().Add(30 * time.Second)}, WithRefresher(refresh))
	if err != nil {
		t.Fatalf("NewTokenSession() error = %v", err)
	}
	if IsValid(s) {
		t.Fatal("a token inside the refresh buffer should not be valid")
	}
	if err = EnsureFresh(context.Background(), s); err != nil {
		t.Fatalf("EnsureFresh() error = %v", err)
	}
	if !IsValid(s) || calls.Load() != 1 {
		t.Fatalf("after refresh valid=%v calls=%d", IsValid(s), calls.Load())
	}

	c, err := NewCookieSession(CookieBundle{SessionAuth: "opaque"})
	if err != nil {
		t.Fatalf("NewCookieSession() error = %v", err)
	}
	if !IsValid(c) {
		t.Fatal("cookie sessions with unknown expiry are valid")
	}
}
