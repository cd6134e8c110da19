package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeFile(t, "config.yaml", `
port: 9000
debug: false
session:
  dir: /var/lib/heb
  algorithm: chacha20-poly1305
  assume-valid-without-expiry: false
oauth:
  client-id: from-file
  scopes: [openid, profile]
git-store:
  username: bot
tenants:
  - api-key: k1
    user-id: alice
`)
	t.Setenv("HEB_PORT", "9100")
	t.Setenv("HEB_DEBUG", "true")
	t.Setenv("HEB_OAUTH_CLIENT_ID", "from-env")
	t.Setenv("HEB_OAUTH_SCOPES", "openid, offline_access")
	t.Setenv("PGSTORE_DSN", "postgres://localhost/heb")
	t.Setenv("GITSTORE_GIT_URL", "https://git.example.com/sessions.git")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9100 || !cfg.Debug {
		t.Fatalf("env overrides not applied: port %d debug %v", cfg.Port, cfg.Debug)
	}
	if cfg.OAuth.ClientID != "from-env" {
		t.Fatalf("ClientID = %q", cfg.OAuth.ClientID)
	}
	if !reflect.DeepEqual(cfg.OAuth.Scopes, []string{"openid", "offline_access"}) {
		t.Fatalf("Scopes = %v", cfg.OAuth.Scopes)
	}
	if cfg.Session.Dir != "/var/lib/heb" || cfg.Session.Algorithm != "chacha20-poly1305" {
		t.Fatalf("Session = %+v", cfg.Session)
	}
	if cfg.AssumeValidWithoutExpiry() {
		t.Fatal("assume-valid-without-expiry: false should be honored")
	}
	if cfg.Postgres.DSN != "postgres://localhost/heb" {
		t.Fatalf("Postgres.DSN = %q", cfg.Postgres.DSN)
	}
	if cfg.GitStore.Remote != "https://git.example.com/sessions.git" || cfg.GitStore.Username != "bot" {
		t.Fatalf("GitStore = %+v", cfg.GitStore)
	}
	if got := cfg.TenantKeys(); got["k1"] != "alice" {
		t.Fatalf("TenantKeys() = %v", got)
	}
	if err = cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != DefaultPort || !cfg.AssumeValidWithoutExpiry() {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.OAuth.PendingTTL() != DefaultPendingTTL {
		t.Fatalf("PendingTTL() = %v", cfg.OAuth.PendingTTL())
	}
	dir, err := cfg.ExpandedSessionDir()
	if err != nil || strings.HasPrefix(dir, "~") {
		t.Fatalf("ExpandedSessionDir() = %q, %v", dir, err)
	}
	if _, err = Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("an explicit missing file should fail")
	}
}

func TestLoadRejectsBadEnvironment(t *testing.T) {
	t.Setenv("HEB_REQUIRE_ENCRYPTION", "sometimes")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "HEB_REQUIRE_ENCRYPTION") {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "encryption without key", mutate: func(c *Config) { c.Session.RequireEncryption = true }, wantErr: ErrEncryptionKeyRequired},
		{name: "encryption with key", mutate: func(c *Config) {
			c.Session.RequireEncryption = true
			c.Session.Key = "base64:AAAA"
		}},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.Validate()
		if tt.wantErr == nil && err != nil {
			t.Fatalf("%s: Validate() error = %v", tt.name, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: Validate() error = %v, want %v", tt.name, err, tt.wantErr)
		}
	}

	for _, bad := range []func(*Config){
		func(c *Config) { c.Port = 0 },
		func(c *Config) { c.Session.Algorithm = "rot13" },
		func(c *Config) { c.Tenants = []TenantKey{{APIKey: "k"}} },
		func(c *Config) { c.Tenants = []TenantKey{{APIKey: "k", UserID: "a"}, {APIKey: "k", UserID: "b"}} },
	} {
		cfg := Default()
		bad(cfg)
		if cfg.Validate() == nil {
			t.Fatalf("Validate() accepted %+v", cfg)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "HEB_SESSION_DIR=/from/dotenv\n")
	t.Setenv("HEB_SESSION_DIR", "")
	_ = os.Unsetenv("HEB_SESSION_DIR")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("HEB_SESSION_DIR") })
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Dir != "/from/dotenv" {
		t.Fatalf("Session.Dir = %q", cfg.Session.Dir)
	}
	if err = LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}
