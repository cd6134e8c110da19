// Package store persists per-user credentials, encrypted at rest with an AEAD envelope. The
// filesystem backend is the default; PostgreSQL and S3-compatible object storage use the same
// envelope bytes.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidUserID is returned when a user id has no usable characters.
var ErrInvalidUserID = errors.New("session store: invalid user id")

// Store loads and saves per-user records. Load returns (nil, nil) when no record exists.
type Store interface {
	Load(ctx context.Context, userID string) (*Record, error)
	Save(ctx context.Context, userID string, rec *Record) error
	Delete(ctx context.Context, userID string) error
}

// SanitizeUserID keeps only [A-Za-z0-9_-] so ids are safe as file names and object keys.
func SanitizeUserID(userID string) (string, error) {
	var b strings.Builder
	b.Grow(len(userID))
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", ErrInvalidUserID
	}
	return b.String(), nil
}
