package cmd

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/heb-mcp/hebsession/internal/auth/credential"
	"github.com/heb-mcp/hebsession/internal/config"
	"github.com/heb-mcp/hebsession/internal/store"
	sdkaccess "github.com/heb-mcp/hebsession/sdk/access"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Session.Dir = t.TempDir()
	cfg.Session.DisableWarmUp = true
	cfg.Tenants = []config.TenantKey{{APIKey: "key-1", UserID: "alice"}}
	return cfg
}

func TestNewRuntimeSelectsFileStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	rt, err := NewRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	defer rt.Close()

	if rt.Files == nil || rt.Store == nil {
		t.Fatal("file store should be selected without postgres or object store settings")
	}
	if rt.OAuth != nil || rt.Pending != nil {
		t.Fatal("oauth should stay disabled without a client id")
	}
	want := filepath.Join(cfg.Session.Dir, "alice.json")
	if got := rt.location("alice"); got != want {
		t.Fatalf("location() = %q, want %q", got, want)
	}

	req := httptest.NewRequest("GET", "/v1/session", nil)
	req.Header.Set("X-Api-Key", "key-1")
	res, authErr := rt.Access.Authenticate(context.Background(), req)
	if authErr != nil || res.UserID != "alice" {
		t.Fatalf("Authenticate() = %+v, %v", res, authErr)
	}
	req.Header.Set("X-Api-Key", "other")
	if _, authErr = rt.Access.Authenticate(context.Background(), req); authErr == nil || authErr.Code != sdkaccess.AuthErrorCodeInvalidCredential {
		t.Fatalf("Authenticate() error = %v, want invalid credential", authErr)
	}
}

func TestNewRuntimeWithOAuthAndKey(t *testing.T) {
	t.Parallel()

	key, err := store.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	cfg := testConfig(t)
	cfg.Session.Key = key
	cfg.Session.RequireEncryption = true
	cfg.OAuth.ClientID = "client"
	rt, err := NewRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	defer rt.Close()
	if rt.OAuth == nil || rt.Pending == nil {
		t.Fatal("oauth should be enabled with a client id")
	}

	ctx := context.Background()
	if _, err = rt.Tenants.SaveCookies(ctx, "alice", credential.CookieBundle{SessionAuth: "sat"}); err != nil {
		t.Fatalf("SaveCookies() error = %v", err)
	}

	again, err := NewRuntime(ctx, cfg)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	defer again.Close()
	preload(ctx, again)
	if _, ok := again.Tenants.GetSession("alice"); !ok {
		t.Fatal("preload should cache configured tenants")
	}
}

func TestNewRuntimeRejectsBadAlgorithm(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Session.Algorithm = "rot13"
	if _, err := NewRuntime(context.Background(), cfg); err == nil {
		t.Fatal("NewRuntime() should reject unknown algorithms")
	}
}
