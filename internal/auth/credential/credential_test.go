package credential

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"
)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	builder := jwt.NewBuilder().Subject("user-1")
	if !exp.IsZero() {
		builder = builder.Expiration(exp)
	}
	tok, err := builder.Build()
	if err != nil {
		t.Fatalf("build jwt: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-signing-key")))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return string(signed)
}

func TestDecodeExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Unix(1893456000, 0)
	tests := []struct {
		name   string
		token  string
		want   time.Time
		wantOK bool
	}{
		{"jwt with exp", signedJWT(t, exp), exp, true},
		{"jwt without exp", signedJWT(t, time.Time{}), time.Time{}, false},
		{"opaque token", "abc123opaque", time.Time{}, false},
		{"three garbage parts", "a.b.c", time.Time{}, false},
		{"empty", "", time.Time{}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DecodeExpiry(tt.token)
			if ok != tt.wantOK {
				t.Fatalf("DecodeExpiry() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("DecodeExpiry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCookieBundleHeader(t *testing.T) {
	t.Parallel()

	b := NewCookieBundle(map[string]string{
		"sat":                 "token",
		"reese84":             "fp",
		"incap_ses_123_456":   "imp",
		"CURR_SESSION_STORE":  "790",
		"zeta":                "z",
		"alpha":               "a",
		"empty":               "",
		"visid_incap_2302070": "v",
		"incap_ses_999_456":   "imp2",
	})
	if b.SessionAuth != "token" || b.Fingerprint != "fp" || b.StoreID != "790" {
		t.Fatalf("well-known cookies not lifted: %+v", b)
	}
	if b.ImpervaName != "incap_ses_123_456" || b.ImpervaSession != "imp" {
		t.Fatalf("unexpected imperva tracker %q=%q", b.ImpervaName, b.ImpervaSession)
	}
	want := "sat=token; reese84=fp; incap_ses_123_456=imp; CURR_SESSION_STORE=790; alpha=a; incap_ses_999_456=imp2; visid_incap_2302070=v; zeta=z"
	if got := b.Header(); got != want {
		t.Fatalf("Header() =\n%q\nwant\n%q", got, want)
	}
}

func TestCookieBundleOmitsEmptyWellKnown(t *testing.T) {
	t.Parallel()

	b := CookieBundle{SessionAuth: "s"}
	if got := b.Header(); got != "sat=s" {
		t.Fatalf("Header() = %q, want %q", got, "sat=s")
	}
}

func TestParseCookieHeader(t *testing.T) {
	t.Parallel()

	b, err := ParseCookieHeader(" sat=abc ; reese84=def;junk; incap_ses_1_2=ghi ")
	if err != nil {
		t.Fatalf("ParseCookieHeader() error = %v", err)
	}
	if b.SessionAuth != "abc" || b.Fingerprint != "def" || b.ImpervaSession != "ghi" {
		t.Fatalf("unexpected bundle %+v", b)
	}
	if _, err = ParseCookieHeader("   "); err == nil {
		t.Fatal("expected error for empty header")
	}
}

func TestCookieBundleValidate(t *testing.T) {
	t.Parallel()

	if err := (CookieBundle{Fingerprint: "x"}).Validate(); !errors.Is(err, ErrMissingSessionAuth) {
		t.Fatalf("Validate() = %v, want ErrMissingSessionAuth", err)
	}
	if err := (CookieBundle{SessionAuth: "x"}).Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestCookieBundleJSONIsFlatMap(t *testing.T) {
	t.Parallel()

	in := NewCookieBundle(map[string]string{"sat": "a", "reese84": "b", "other": "c"})
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]string
	if err = json.Unmarshal(raw, &flat); err != nil {
		t.Fatalf("expected flat map, got %s: %v", raw, err)
	}
	if flat["sat"] != "a" || flat["other"] != "c" {
		t.Fatalf("unexpected flat map %v", flat)
	}
	var out CookieBundle
	if err = json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Header() != in.Header() {
		t.Fatalf("round trip header %q != %q", out.Header(), in.Header())
	}
}

func TestCookieBundleExpiryFromSessionAuth(t *testing.T) {
	t.Parallel()

	exp := time.Unix(1900000000, 0)
	b := CookieBundle{SessionAuth: signedJWT(t, exp)}
	got, ok := b.Expiry()
	if !ok || !got.Equal(exp) {
		t.Fatalf("Expiry() = %v, %v; want %v, true", got, ok, exp)
	}
}

func TestTokenBundleResolveExpiry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	explicit := now.Add(time.Hour)
	jwtExp := time.Unix(1700009999, 0)

	tests := []struct {
		name   string
		bundle TokenBundle
		want   time.Time
		wantOK bool
	}{
		{"explicit wins", TokenBundle{AccessToken: signedJWT(t, jwtExp), ExpiresAt: explicit, ExpiresIn: 10}, explicit, true},
		{"ttl", TokenBundle{AccessToken: "opaque", ExpiresIn: 1800}, now.Add(1800 * time.Second), true},
		{"jwt fallback", TokenBundle{AccessToken: signedJWT(t, jwtExp)}, jwtExp, true},
		{"unknown", TokenBundle{AccessToken: "opaque"}, time.Time{}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.bundle.ResolveExpiry(now)
			if ok != tt.wantOK || (ok && !got.Equal(tt.want)) {
				t.Fatalf("ResolveExpiry() = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTokenBundleDefaults(t *testing.T) {
	t.Parallel()

	b := TokenBundle{AccessToken: "abc"}
	if got := b.AuthorizationHeader(); got != "Bearer abc" {
		t.Fatalf("AuthorizationHeader() = %q", got)
	}
	if err := (TokenBundle{}).Validate(); !errors.Is(err, ErrMissingAccessToken) {
		t.Fatalf("Validate() = %v, want ErrMissingAccessToken", err)
	}
	now := time.Unix(1700000000, 0)
	pinned := TokenBundle{AccessToken: "abc", ExpiresIn: 60}.Pin(now)
	if pinned.ExpiresIn != 0 || !pinned.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("Pin() = %+v", pinned)
	}
}

func TestTokenBundleJSONOmitsZeroExpiry(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(TokenBundle{AccessToken: "a", ExpiresIn: 60})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var fields map[string]any
	if err = json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := fields["expires_at"]; ok {
		t.Fatalf("zero ExpiresAt serialized: %s", raw)
	}

	exp := time.Unix(1700000000, 0).UTC()
	raw, err = json.Marshal(TokenBundle{AccessToken: "a", ExpiresAt: exp})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back TokenBundle
	if err = json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !back.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", back.ExpiresAt, exp)
	}
}

func TestFromOAuth2(t *testing.T) {
	t.Parallel()

	exp := time.Unix(1700000000, 0)
	tok := (&oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "bearer", Expiry: exp}).
		WithExtra(map[string]any{"id_token": "id", "scope": "openid profile"})
	b := FromOAuth2(tok)
	if b.AccessToken != "a" || b.RefreshToken != "r" || b.IDToken != "id" || b.Scope != "openid profile" || !b.ExpiresAt.Equal(exp) {
		t.Fatalf("FromOAuth2() = %+v", b)
	}
	if got := FromOAuth2(nil); got.AccessToken != "" {
		t.Fatalf("FromOAuth2(nil) = %+v", got)
	}
}
