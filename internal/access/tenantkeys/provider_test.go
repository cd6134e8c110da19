package tenantkeys

import (
	"context"
	"net/http/httptest"
	"testing"

	sdkaccess "github.com/heb-mcp/hebsession/sdk/access"
)

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	p := New(map[string]string{"key-a": "alice", " key-b ": "bob", "blank": " "})
	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}

	tests := []struct {
		name     string
		headers  map[string]string
		wantUser string
		wantCode sdkaccess.AuthErrorCode
	}{
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer key-a"}, wantUser: "alice"},
		{name: "lowercase scheme", headers: map[string]string{"Authorization": "bearer key-b"}, wantUser: "bob"},
		{name: "x-api-key", headers: map[string]string{"X-Api-Key": "key-b"}, wantUser: "bob"},
		{name: "missing", wantCode: sdkaccess.AuthErrorCodeNoCredentials},
		{name: "unknown", headers: map[string]string{"X-Api-Key": "nope"}, wantCode: sdkaccess.AuthErrorCodeInvalidCredential},
		{name: "blank user skipped", headers: map[string]string{"X-Api-Key": "blank"}, wantCode: sdkaccess.AuthErrorCodeInvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/session", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			res, authErr := p.Authenticate(context.Background(), r)
			if tt.wantCode != "" {
				if !sdkaccess.IsAuthErrorCode(authErr, tt.wantCode) {
					t.Fatalf("Authenticate() error = %v, want %s", authErr, tt.wantCode)
				}
				return
			}
			if authErr != nil || res.UserID != tt.wantUser {
				t.Fatalf("Authenticate() = %+v, %v", res, authErr)
			}
		})
	}
}

func TestManagerRejectsWithoutProviders(t *testing.T) {
	t.Parallel()

	m := sdkaccess.NewManager()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Api-Key", "key-a")
	if _, authErr := m.Authenticate(context.Background(), r); !sdkaccess.IsAuthErrorCode(authErr, sdkaccess.AuthErrorCodeNoCredentials) {
		t.Fatalf("Authenticate() error = %v, want no_credentials", authErr)
	}

	m.SetProviders([]sdkaccess.Provider{New(map[string]string{"key-a": "alice"})})
	res, authErr := m.Authenticate(context.Background(), r)
	if authErr != nil || res.UserID != "alice" || res.Provider != ProviderName {
		t.Fatalf("Authenticate() = %+v, %v", res, authErr)
	}
	r.Header.Set("X-Api-Key", "wrong")
	if _, authErr = m.Authenticate(context.Background(), r); authErr.HTTPStatusCode() != 401 {
		t.Fatalf("status = %d, want 401", authErr.HTTPStatusCode())
	}
}
