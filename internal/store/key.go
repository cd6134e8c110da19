package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// KeySize is the required length of the encryption key in bytes.
const KeySize = 32

const keyPrefix = "base64:"

// ErrKeyRequired is returned when encrypted data or configuration demands a key that is absent.
var ErrKeyRequired = errors.New("session store: encryption key is required")

// ParseKey decodes a base64 key, with or without the "base64:" prefix.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	encoded = strings.TrimPrefix(encoded, keyPrefix)
	if encoded == "" {
		return nil, ErrKeyRequired
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("session store: decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("session store: key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// GenerateKey returns a fresh random key in the "base64:" form accepted by ParseKey.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("session store: generate key: %w", err)
	}
	encoded := keyPrefix + base64.StdEncoding.EncodeToString(key)
	memguard.WipeBytes(key)
	return encoded, nil
}

// Keyring keeps the encryption key sealed in a memguard enclave between uses.
type Keyring struct {
	enclave *memguard.Enclave
}

// NewKeyring seals key. The caller's slice is wiped.
func NewKeyring(key []byte) (*Keyring, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("session store: key must be %d bytes, got %d", KeySize, len(key))
	}
	return &Keyring{enclave: memguard.NewEnclave(key)}, nil
}

// LoadKeyring parses encoded and seals it. An empty value yields a nil keyring and no error.
func LoadKeyring(encoded string) (*Keyring, error) {
	if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(encoded), keyPrefix)) == "" {
		return nil, nil
	}
	key, err := ParseKey(encoded)
	if err != nil {
		return nil, err
	}
	return NewKeyring(key)
}

func (k *Keyring) use(fn func(key []byte) error) error {
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("session store: open key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}
