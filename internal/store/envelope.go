package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names an AEAD cipher for the envelope.
type Algorithm string

const (
	AlgorithmAESGCM   Algorithm = "aes-256-gcm"
	AlgorithmChaCha20 Algorithm = "chacha20-poly1305"
)

// EnvelopeVersion is the only envelope layout currently written.
const EnvelopeVersion = 1

const ivSize = 12

// ErrDecrypt covers tag mismatches and malformed envelopes. It is never treated as "no record".
var ErrDecrypt = errors.New("session store: decrypt failed")

// Envelope is the on-disk form of an encrypted record. Binary fields are standard base64.
type Envelope struct {
	Version    int       `json:"version"`
	Algorithm  Algorithm `json:"algorithm"`
	IV         string    `json:"iv"`
	Tag        string    `json:"tag"`
	Ciphertext string    `json:"ciphertext"`
}

// ParseAlgorithm validates an algorithm name; empty means AES-256-GCM.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "", AlgorithmAESGCM:
		return AlgorithmAESGCM, nil
	case AlgorithmChaCha20:
		return AlgorithmChaCha20, nil
	default:
		return "", fmt.Errorf("session store: unsupported algorithm %q", name)
	}
}

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case AlgorithmChaCha20:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("session store: unsupported algorithm %q", alg)
	}
}

// Seal encrypts plaintext under key with a fresh random IV.
func Seal(key, plaintext []byte, alg Algorithm) (*Envelope, error) {
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, ivSize)
	if _, err = rand.Read(iv); err != nil {
		return nil, fmt.Errorf("session store: generate iv: %w", err)
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - aead.Overhead()
	return &Envelope{
		Version:    EnvelopeVersion,
		Algorithm:  alg,
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(sealed[split:]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
	}, nil
}

// Open authenticates and decrypts env.
func Open(key []byte, env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: envelope is nil", ErrDecrypt)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrDecrypt, env.Version)
	}
	if env.Algorithm == "" {
		return nil, fmt.Errorf("%w: envelope names no algorithm", ErrDecrypt)
	}
	alg, err := ParseAlgorithm(string(env.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	aead, err := newAEAD(alg, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: malformed iv", ErrDecrypt)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != aead.Overhead() {
		return nil, fmt.Errorf("%w: malformed tag", ErrDecrypt)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext", ErrDecrypt)
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}
	return plaintext, nil
}

// looksLikeEnvelope reports whether data is a JSON object carrying any envelope field. A partial
// envelope still counts, so Open rejects it instead of it being read as a plaintext record.
func looksLikeEnvelope(data []byte) bool {
	if !gjson.ValidBytes(data) {
		return false
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return false
	}
	for _, f := range gjson.GetManyBytes(data, "version", "algorithm", "iv", "tag", "ciphertext") {
		if f.Exists() {
			return true
		}
	}
	return false
}
