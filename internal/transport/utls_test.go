package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFingerprintedHosts(t *testing.T) {
	t.Parallel()

	rt := newUtlsRoundTripper(Options{})
	tests := []struct {
		host string
		want bool
	}{
		{"www.heb.com", true},
		{"heb.com", true},
		{"api-edge.heb-ecom-api.hebdigital-prd.com", true},
		{"notheb.com", false},
		{"example.com", false},
		{"127.0.0.1", false},
	}
	for _, tt := range tests {
		if got := rt.fingerprinted(tt.host); got != tt.want {
			t.Fatalf("fingerprinted(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestOtherHostsUseFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := NewHTTPClient(Options{})
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}
}

func TestInvalidProxyKeepsDirectDialer(t *testing.T) {
	t.Parallel()

	rt := newUtlsRoundTripper(Options{ProxyURL: "://bad"})
	if rt.dialer == nil {
		t.Fatal("dialer must never be nil")
	}
}
