package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/heb-mcp/hebsession/internal/auth/credential"
)

// Record is the persisted per-user credential.
type Record struct {
	Cookies   *credential.CookieBundle `json:"cookies,omitempty"`
	Tokens    *credential.TokenBundle  `json:"tokens,omitempty"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Empty reports whether the record carries no credential at all.
func (r *Record) Empty() bool {
	return r == nil || (r.Cookies == nil && r.Tokens == nil)
}

// Codec turns records into stored bytes. With a keyring the bytes are an encrypted envelope;
// without one they are the plain JSON record.
type Codec struct {
	keyring   *Keyring
	algorithm Algorithm
}

// NewCodec builds a codec. requireKey refuses to operate without a keyring.
func NewCodec(keyring *Keyring, algorithm Algorithm, requireKey bool) (*Codec, error) {
	if keyring == nil && requireKey {
		return nil, ErrKeyRequired
	}
	alg, err := ParseAlgorithm(string(algorithm))
	if err != nil {
		return nil, err
	}
	return &Codec{keyring: keyring, algorithm: alg}, nil
}

// Encrypted reports whether Encode produces envelopes.
func (c *Codec) Encrypted() bool {
	return c != nil && c.keyring != nil
}

// Encode serialises rec.
func (c *Codec) Encode(rec *Record) ([]byte, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("session store: marshal record: %w", err)
	}
	if !c.Encrypted() {
		return plaintext, nil
	}
	var env *Envelope
	err = c.keyring.use(func(key []byte) error {
		var errSeal error
		env, errSeal = Seal(key, plaintext, c.algorithm)
		return errSeal
	})
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("session store: marshal envelope: %w", err)
	}
	return out, nil
}

// Decode parses stored bytes. Plain JSON records are accepted so unencrypted stores keep loading
// after a key is configured; an envelope without a key is ErrKeyRequired. Anything that does not
// decode to a record holding a credential is ErrDecrypt.
func (c *Codec) Decode(data []byte) (*Record, error) {
	plaintext := data
	if looksLikeEnvelope(data) {
		if !c.Encrypted() {
			return nil, fmt.Errorf("%w: record is encrypted", ErrKeyRequired)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
		}
		err := c.keyring.use(func(key []byte) error {
			var errOpen error
			plaintext, errOpen = Open(key, &env)
			return errOpen
		})
		if err != nil {
			return nil, err
		}
	}
	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode record: %w", ErrDecrypt, err)
	}
	if rec.Empty() {
		return nil, fmt.Errorf("%w: record carries no credential", ErrDecrypt)
	}
	return &rec, nil
}
