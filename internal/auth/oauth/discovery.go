package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultDiscoveryTTL is how long a fetched discovery document is reused.
	DefaultDiscoveryTTL = time.Hour

	wellKnownOpenID = "/.well-known/openid-configuration"
)

// Metadata is the subset of an OpenID discovery document this client needs.
type Metadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

type metadataEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Discovery fetches and caches discovery documents. Concurrent fetches of the same URL are
// collapsed into one request.
type Discovery struct {
	httpClient *http.Client
	ttl        time.Duration

	mu    sync.RWMutex
	cache map[string]*metadataEntry
	group singleflight.Group
}

// NewDiscovery creates a discovery cache. A nil client uses http.DefaultClient.
func NewDiscovery(httpClient *http.Client, ttl time.Duration) *Discovery {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	return &Discovery{httpClient: httpClient, ttl: ttl, cache: make(map[string]*metadataEntry)}
}

// Fetch returns the document at discoveryURL. An issuer URL without the well-known suffix gets
// it appended.
func (d *Discovery) Fetch(ctx context.Context, discoveryURL string) (*Metadata, error) {
	target := normalizeDiscoveryURL(discoveryURL)
	if target == "" {
		return nil, fmt.Errorf("oauth: discovery url is empty")
	}
	if md, ok := d.cached(target); ok {
		return md, nil
	}
	result, err, _ := d.group.Do(target, func() (any, error) {
		if md, ok := d.cached(target); ok {
			return md, nil
		}
		md, errFetch := d.fetch(ctx, target)
		if errFetch != nil {
			return nil, errFetch
		}
		d.mu.Lock()
		d.cache[target] = &metadataEntry{metadata: md, fetchedAt: time.Now()}
		d.mu.Unlock()
		log.Debugf("oauth: cached discovery document from %s", target)
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Metadata), nil
}

// Clear drops every cached document.
func (d *Discovery) Clear() {
	d.mu.Lock()
	d.cache = make(map[string]*metadataEntry)
	d.mu.Unlock()
}

func (d *Discovery) cached(target string) (*Metadata, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.cache[target]
	if !ok || time.Since(entry.fetchedAt) >= d.ttl {
		return nil, false
	}
	return entry.metadata, true
}

func (d *Discovery) fetch(ctx context.Context, target string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("oauth: build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("oauth: read discovery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth: discovery request failed with status %d: %s", resp.StatusCode, string(body))
	}
	var md Metadata
	if err = json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("oauth: parse discovery document: %w", err)
	}
	if md.TokenEndpoint == "" {
		return nil, fmt.Errorf("oauth: discovery document at %s has no token_endpoint", target)
	}
	return &md, nil
}

func normalizeDiscoveryURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "/.well-known/") {
		return raw
	}
	return strings.TrimSuffix(raw, "/") + wellKnownOpenID
}
