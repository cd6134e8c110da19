package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
)

// gcInterval defines minimum time between garbage collection runs.
const gcInterval = 5 * time.Minute

const gitSessionDir = "sessions"

// GitStoreConfig configures a GitStore.
type GitStoreConfig struct {
	// Remote is the repository URL records are pushed to.
	Remote   string
	Username string
	// Password is the password or access token for HTTP remotes.
	Password string
	// Dir is the local working tree.
	Dir string
}

// GitStore keeps the FileStore layout inside a git working tree and pushes every change. The
// branch is rewritten to a single commit on each push so old credentials do not linger in history.
type GitStore struct {
	cfg   GitStoreConfig
	files *FileStore

	mu     sync.Mutex
	lastGC time.Time
}

// NewGitStore clones or opens the working tree at cfg.Dir and pulls the remote.
func NewGitStore(cfg GitStoreConfig, codec *Codec) (*GitStore, error) {
	cfg.Remote = strings.TrimSpace(cfg.Remote)
	if cfg.Remote == "" {
		return nil, fmt.Errorf("git store: remote not configured")
	}
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("git store: local directory not configured")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("git store: resolve directory: %w", err)
	}
	cfg.Dir = abs
	s := &GitStore{cfg: cfg}
	if err = s.ensureRepository(); err != nil {
		return nil, err
	}
	s.files, err = NewFileStore(filepath.Join(abs, gitSessionDir), codec)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Files exposes the record directory inside the working tree.
func (s *GitStore) Files() *FileStore { return s.files }

// Load reads the record from the working tree.
func (s *GitStore) Load(ctx context.Context, userID string) (*Record, error) {
	return s.files.Load(ctx, userID)
}

// Save writes the record and pushes it.
func (s *GitStore) Save(ctx context.Context, userID string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.files.Save(ctx, userID, rec); err != nil {
		return err
	}
	rel, err := s.relativePath(userID)
	if err != nil {
		return err
	}
	return s.commitAndPushLocked("Update session "+filepath.Base(rel), rel)
}

// Delete removes the record and pushes the removal.
func (s *GitStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, err := s.relativePath(userID)
	if err != nil {
		return err
	}
	if err = s.files.Delete(ctx, userID); err != nil {
		return err
	}
	return s.commitAndPushLocked("Remove session "+filepath.Base(rel), rel)
}

func (s *GitStore) relativePath(userID string) (string, error) {
	path, err := s.files.Path(userID)
	if err != nil {
		return "", err
	}
	return filepath.Rel(s.cfg.Dir, path)
}

// ensureRepository prepares the local working tree by cloning or opening the repository.
func (s *GitStore) ensureRepository() error {
	repoDir := s.cfg.Dir
	sessionDir := filepath.Join(repoDir, gitSessionDir)
	gitDir := filepath.Join(repoDir, ".git")
	authMethod := s.gitAuth()

	var initPaths []string
	if _, err := os.Stat(gitDir); errors.Is(err, fs.ErrNotExist) {
		if errMk := os.MkdirAll(repoDir, 0o700); errMk != nil {
			return fmt.Errorf("git store: create repo dir: %w", errMk)
		}
		if _, errClone := git.PlainClone(repoDir, &git.CloneOptions{Auth: authMethod, URL: s.cfg.Remote}); errClone != nil {
			if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
				return fmt.Errorf("git store: clone remote: %w", errClone)
			}
			_ = os.RemoveAll(gitDir)
			repo, errInit := git.PlainInit(repoDir, false)
			if errInit != nil {
				return fmt.Errorf("git store: init empty repo: %w", errInit)
			}
			if _, errCreate := repo.CreateRemote(&config.RemoteConfig{
				Name: "origin",
				URLs: []string{s.cfg.Remote},
			}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
				return fmt.Errorf("git store: configure remote: %w", errCreate)
			}
			if err = os.MkdirAll(sessionDir, 0o700); err != nil {
				return fmt.Errorf("git store: create session dir: %w", err)
			}
			if err = ensureEmptyFile(filepath.Join(sessionDir, ".gitkeep")); err != nil {
				return fmt.Errorf("git store: create session placeholder: %w", err)
			}
			initPaths = []string{filepath.Join(gitSessionDir, ".gitkeep")}
		}
	} else if err != nil {
		return fmt.Errorf("git store: stat repo: %w", err)
	} else {
		repo, errOpen := git.PlainOpen(repoDir)
		if errOpen != nil {
			return fmt.Errorf("git store: open repo: %w", errOpen)
		}
		worktree, errWorktree := repo.Worktree()
		if errWorktree != nil {
			return fmt.Errorf("git store: worktree: %w", errWorktree)
		}
		if errPull := worktree.Pull(&git.PullOptions{Auth: authMethod, RemoteName: "origin"}); errPull != nil {
			switch {
			case errors.Is(errPull, git.NoErrAlreadyUpToDate),
				errors.Is(errPull, git.ErrUnstagedChanges),
				errors.Is(errPull, git.ErrNonFastForwardUpdate):
				// Local changes win.
			case errors.Is(errPull, transport.ErrAuthenticationRequired),
				errors.Is(errPull, plumbing.ErrReferenceNotFound),
				errors.Is(errPull, transport.ErrEmptyRemoteRepository):
			default:
				return fmt.Errorf("git store: pull: %w", errPull)
			}
		}
	}
	if len(initPaths) > 0 {
		s.mu.Lock()
		err := s.commitAndPushLocked("Initialize session store", initPaths...)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *GitStore) gitAuth() transport.AuthMethod {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return nil
	}
	user := s.cfg.Username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.cfg.Password}
}

func (s *GitStore) commitAndPushLocked(message string, relPaths ...string) error {
	repo, err := git.PlainOpen(s.cfg.Dir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	for _, rel := range relPaths {
		if _, err = worktree.Add(rel); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("git store: add %s: %w", rel, err)
			}
			if _, errRemove := worktree.Remove(rel); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
				return fmt.Errorf("git store: remove %s: %w", rel, errRemove)
			}
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git store: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	signature := &object.Signature{
		Name:  "hebsession",
		Email: "hebsession@local",
		When:  time.Now(),
	}
	commitHash, err := worktree.Commit(message, &git.CommitOptions{Author: signature})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git store: commit: %w", err)
	}
	headRef, errHead := repo.Head()
	if errHead != nil {
		if !errors.Is(errHead, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("git store: get head: %w", errHead)
		}
	} else if errRewrite := squashHead(repo, headRef.Name(), commitHash, message, signature); errRewrite != nil {
		return errRewrite
	}
	s.maybeRunGC(repo)
	if err = repo.Push(&git.PushOptions{Auth: s.gitAuth(), Force: true}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("git store: push: %w", err)
	}
	return nil
}

// squashHead points branch at a parentless copy of commitHash.
func squashHead(repo *git.Repository, branch plumbing.ReferenceName, commitHash plumbing.Hash, message string, signature *object.Signature) error {
	commitObj, err := repo.CommitObject(commitHash)
	if err != nil {
		return fmt.Errorf("git store: inspect head commit: %w", err)
	}
	squashed := &object.Commit{
		Author:       *signature,
		Committer:    *signature,
		Message:      message,
		TreeHash:     commitObj.TreeHash,
		Encoding:     commitObj.Encoding,
		ExtraHeaders: commitObj.ExtraHeaders,
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.CommitObject)
	if err = squashed.Encode(mem); err != nil {
		return fmt.Errorf("git store: encode squashed commit: %w", err)
	}
	newHash, err := repo.Storer.SetEncodedObject(mem)
	if err != nil {
		return fmt.Errorf("git store: write squashed commit: %w", err)
	}
	if err = repo.Storer.SetReference(plumbing.NewHashReference(branch, newHash)); err != nil {
		return fmt.Errorf("git store: update branch reference: %w", err)
	}
	return nil
}

func (s *GitStore) maybeRunGC(repo *git.Repository) {
	now := time.Now()
	if now.Sub(s.lastGC) < gcInterval {
		return
	}
	s.lastGC = now
	pruneOpts := git.PruneOptions{
		OnlyObjectsOlderThan: now,
		Handler:              repo.DeleteObject,
	}
	if err := repo.Prune(pruneOpts); err != nil && !errors.Is(err, git.ErrLooseObjectsNotSupported) {
		return
	}
	_ = repo.RepackObjects(&git.RepackConfig{})
}

func ensureEmptyFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return os.WriteFile(path, []byte{}, 0o600)
		}
		return err
	}
	return nil
}
