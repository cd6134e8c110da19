// Package tenantkeys authenticates requests with static API keys, each bound to one user id.
package tenantkeys

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	sdkaccess "github.com/heb-mcp/hebsession/sdk/access"
)

// ProviderName identifies this provider in access results.
const ProviderName = "tenant-keys"

// Provider maps an API key to the user id it was issued for.
type Provider struct {
	keys map[string]string
}

// New builds a provider from a key to user id map. Blank keys and users are skipped.
func New(keys map[string]string) *Provider {
	normalized := make(map[string]string, len(keys))
	for key, userID := range keys {
		key = strings.TrimSpace(key)
		userID = strings.TrimSpace(userID)
		if key == "" || userID == "" {
			continue
		}
		normalized[key] = userID
	}
	return &Provider{keys: normalized}
}

// Len returns the number of usable keys.
func (p *Provider) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Identifier implements sdkaccess.Provider.
func (p *Provider) Identifier() string { return ProviderName }

// Authenticate reads the key from "Authorization: Bearer" or X-Api-Key.
func (p *Provider) Authenticate(_ context.Context, r *http.Request) (*sdkaccess.Result, *sdkaccess.AuthError) {
	if p == nil || len(p.keys) == 0 {
		return nil, sdkaccess.NewNotHandledError()
	}
	authHeader := r.Header.Get("Authorization")
	apiKeyHeader := r.Header.Get("X-Api-Key")
	if authHeader == "" && apiKeyHeader == "" {
		return nil, sdkaccess.NewNoCredentialsError()
	}

	candidates := []struct {
		value  string
		source string
	}{
		{extractBearerToken(authHeader), "authorization"},
		{strings.TrimSpace(apiKeyHeader), "x-api-key"},
	}
	for _, candidate := range candidates {
		if candidate.value == "" {
			continue
		}
		if userID, ok := p.lookup(candidate.value); ok {
			return &sdkaccess.Result{
				Provider: ProviderName,
				UserID:   userID,
				Metadata: map[string]string{"source": candidate.source},
			}, nil
		}
	}
	return nil, sdkaccess.NewInvalidCredentialError()
}

func (p *Provider) lookup(candidate string) (string, bool) {
	for key, userID := range p.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			return userID, true
		}
	}
	return "", false
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return header
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return header
	}
	return strings.TrimSpace(parts[1])
}
