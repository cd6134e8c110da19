// Package oauth implements the authorization-code-with-PKCE flow against the retailer's identity
// provider: building the login context and URL, exchanging the code, refreshing tokens, and
// tracking pending logins.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChallengeMethod is the only PKCE method this client sends.
const ChallengeMethod = "S256"

// Context carries every per-login value that must survive between building the authorization
// URL and exchanging the returned code.
type Context struct {
	Verifier        string    `json:"code_verifier"`
	Challenge       string    `json:"code_challenge"`
	Method          string    `json:"code_challenge_method"`
	State           string    `json:"state"`
	Nonce           string    `json:"nonce"`
	DeviceID        string    `json:"device_id"`
	ClientRequestID string    `json:"client_request_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewContext generates a fresh PKCE verifier/challenge pair plus state, nonce and ids.
func NewContext() (*Context, error) {
	verifier, err := randomURLString(32)
	if err != nil {
		return nil, fmt.Errorf("oauth: generate code verifier: %w", err)
	}
	state, err := randomURLString(32)
	if err != nil {
		return nil, fmt.Errorf("oauth: generate state: %w", err)
	}
	nonce, err := randomURLString(16)
	if err != nil {
		return nil, fmt.Errorf("oauth: generate nonce: %w", err)
	}
	return &Context{
		Verifier:        verifier,
		Challenge:       codeChallenge(verifier),
		Method:          ChallengeMethod,
		State:           state,
		Nonce:           nonce,
		DeviceID:        uuid.NewString(),
		ClientRequestID: uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// VerifyChallenge reports whether Challenge is the S256 digest of Verifier.
func (c *Context) VerifyChallenge() bool {
	if c == nil || c.Verifier == "" {
		return false
	}
	expected := codeChallenge(c.Verifier)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(c.Challenge)) == 1
}

func codeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func randomURLString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
