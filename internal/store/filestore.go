package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const recordExt = ".json"

// FileStore keeps one file per user under a directory. Writes go through a temp file and a
// rename, so readers never see a partial record; concurrent writers for the same user race and
// the last rename wins.
type FileStore struct {
	dir   string
	codec *Codec
}

// NewFileStore creates dir with owner-only permissions.
func NewFileStore(dir string, codec *Codec) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("session store: directory is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("session store: codec is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("session store: resolve directory: %w", err)
	}
	if err = os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("session store: create directory: %w", err)
	}
	return &FileStore{dir: abs, codec: codec}, nil
}

// Dir returns the absolute store directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the record file for userID.
func (s *FileStore) Path(userID string) (string, error) {
	id, err := SanitizeUserID(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, id+recordExt), nil
}

// UserIDFromPath maps a record file back to its user id. Temp files and foreign files are
// rejected.
func (s *FileStore) UserIDFromPath(path string) (string, bool) {
	if filepath.Dir(filepath.Clean(path)) != s.dir {
		return "", false
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, recordExt)
	sanitized, err := SanitizeUserID(id)
	if err != nil || sanitized != id {
		return "", false
	}
	return id, true
}

// Load reads and decodes the record for userID.
func (s *FileStore) Load(_ context.Context, userID string) (*Record, error) {
	path, err := s.Path(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("session store: read %s: %w", filepath.Base(path), err)
	}
	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("session store: load %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

// Save encodes rec and replaces the user's file.
func (s *FileStore) Save(_ context.Context, userID string, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("session store: record is nil")
	}
	path, err := s.Path(userID)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	data, err := s.codec.Encode(rec)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// Delete removes the user's file. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, userID string) error {
	path, err := s.Path(userID)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session store: delete %s: %w", filepath.Base(path), err)
	}
	return nil
}

// List returns the user ids that currently have a record file.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session store: list directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := s.UserIDFromPath(filepath.Join(s.dir, entry.Name())); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("session store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("session store: chmod temp file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("session store: write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("session store: sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("session store: close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("session store: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
