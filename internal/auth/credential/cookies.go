// Package credential holds the immutable credential bundles a session authenticates with:
// browser-style cookie bundles for the public web host and OAuth token bundles for the
// mobile GraphQL host.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known cookie names carried by every web session.
const (
	CookieSessionAuth    = "sat"
	CookieFingerprint    = "reese84"
	CookieImpervaSession = "incap_ses"
	CookieStoreID        = "CURR_SESSION_STORE"
)

// ErrMissingSessionAuth is returned when a cookie bundle lacks the session-auth token.
var ErrMissingSessionAuth = errors.New("credential: cookie bundle is missing the session-auth token")

// Cookie is a single name/value pair in header order.
type Cookie struct {
	Name  string
	Value string
}

// CookieBundle is the cookie-mode credential. The well-known cookies are lifted into fields;
// anything else the browser carried is kept verbatim in Extra.
type CookieBundle struct {
	// SessionAuth is the session-auth token. When JWT-shaped its exp claim is the bundle expiry.
	SessionAuth string
	// Fingerprint is the bot-mitigation fingerprint cookie.
	Fingerprint string
	// ImpervaSession is the Imperva session tracker value.
	ImpervaSession string
	// ImpervaName is the exact tracker cookie name (Imperva suffixes it with site ids).
	ImpervaName string
	// StoreID is the selected store identifier, if any.
	StoreID string
	// Extra holds every other cookie.
	Extra map[string]string
}

// NewCookieBundle builds a bundle from a raw cookie map.
func NewCookieBundle(raw map[string]string) CookieBundle {
	var b CookieBundle
	for name, value := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		switch {
		case name == CookieSessionAuth:
			b.SessionAuth = value
		case name == CookieFingerprint:
			b.Fingerprint = value
		case name == CookieStoreID:
			b.StoreID = value
		case strings.HasPrefix(name, CookieImpervaSession):
			// Several trackers may exist; keep the first one seen by name order and park the rest.
			if b.ImpervaName == "" || name < b.ImpervaName {
				if b.ImpervaName != "" {
					b.setExtra(b.ImpervaName, b.ImpervaSession)
				}
				b.ImpervaName = name
				b.ImpervaSession = value
			} else {
				b.setExtra(name, value)
			}
		default:
			b.setExtra(name, value)
		}
	}
	return b
}

// ParseCookieHeader parses a `name=value; name=value` header into a bundle.
func ParseCookieHeader(header string) (CookieBundle, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return CookieBundle{}, fmt.Errorf("credential: cookie header is empty")
	}
	raw := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		raw[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if len(raw) == 0 {
		return CookieBundle{}, fmt.Errorf("credential: cookie header has no name=value pairs")
	}
	return NewCookieBundle(raw), nil
}

func (b *CookieBundle) setExtra(name, value string) {
	if b.Extra == nil {
		b.Extra = make(map[string]string)
	}
	b.Extra[name] = value
}

// Validate checks the construction-time required fields.
func (b CookieBundle) Validate() error {
	if strings.TrimSpace(b.SessionAuth) == "" {
		return ErrMissingSessionAuth
	}
	return nil
}

// Cookies returns the bundle as ordered pairs: well-known cookies first, extras sorted by name.
// Cookies with empty values are omitted.
func (b CookieBundle) Cookies() []Cookie {
	out := make([]Cookie, 0, 4+len(b.Extra))
	add := func(name, value string) {
		if name == "" || value == "" {
			return
		}
		out = append(out, Cookie{Name: name, Value: value})
	}
	add(CookieSessionAuth, b.SessionAuth)
	add(CookieFingerprint, b.Fingerprint)
	impervaName := b.ImpervaName
	if impervaName == "" {
		impervaName = CookieImpervaSession
	}
	add(impervaName, b.ImpervaSession)
	add(CookieStoreID, b.StoreID)

	names := make([]string, 0, len(b.Extra))
	for name := range b.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add(name, b.Extra[name])
	}
	return out
}

// Header formats the Cookie header value.
func (b CookieBundle) Header() string {
	cookies := b.Cookies()
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Map flattens the bundle back into a cookie map. Empty values are dropped.
func (b CookieBundle) Map() map[string]string {
	cookies := b.Cookies()
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

// Expiry returns the exp claim of the session-auth token when it is JWT-shaped.
func (b CookieBundle) Expiry() (time.Time, bool) {
	return DecodeExpiry(b.SessionAuth)
}

// Clone returns a deep copy so callers never share the Extra map.
func (b CookieBundle) Clone() CookieBundle {
	c := b
	if len(b.Extra) > 0 {
		c.Extra = make(map[string]string, len(b.Extra))
		for k, v := range b.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// MarshalJSON persists the bundle as a flat cookie map.
func (b CookieBundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Map())
}

// UnmarshalJSON reads a flat cookie map.
func (b *CookieBundle) UnmarshalJSON(data []byte) error {
	raw := make(map[string]string)
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("credential: decode cookie bundle: %w", err)
	}
	*b = NewCookieBundle(raw)
	return nil
}
