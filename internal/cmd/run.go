package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heb-mcp/hebsession/internal/api"
	"github.com/heb-mcp/hebsession/internal/config"
	"github.com/heb-mcp/hebsession/internal/store"
	"github.com/heb-mcp/hebsession/internal/tenant"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

// StartService runs the session API until SIGINT or SIGTERM.
//
// Parameters:
//   - cfg: The validated application configuration
func StartService(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := runService(ctx, cfg); err != nil {
		log.Errorf("session service stopped: %v", err)
		os.Exit(1)
	}
}

func runService(ctx context.Context, cfg *config.Config) error {
	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Session.WatchFiles {
		if rt.Files == nil {
			log.Warn("watch-files only applies to the file session store; ignoring")
		} else {
			watcher, errWatch := tenant.NewWatcher(rt.Tenants, rt.Files, tenant.DefaultDebounce)
			if errWatch != nil {
				return fmt.Errorf("create session watcher: %w", errWatch)
			}
			if errWatch = watcher.Start(ctx); errWatch != nil {
				return errWatch
			}
			defer func() { _ = watcher.Stop() }()
		}
	}
	preload(ctx, rt)

	server := api.NewServer(cfg, api.Options{
		Tenants: rt.Tenants,
		Access:  rt.Access,
		OAuth:   rt.OAuth,
		Pending: rt.Pending,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down session service")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err = server.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return <-errCh
}

// preload warms the cache for every configured tenant so the first request skips the store.
func preload(ctx context.Context, rt *Runtime) {
	for _, key := range rt.Config.Tenants {
		s, err := rt.Tenants.LoadUser(ctx, key.UserID)
		switch {
		case errors.Is(err, store.ErrDecrypt), errors.Is(err, store.ErrKeyRequired):
			log.WithField("user", key.UserID).WithError(err).Error("stored session cannot be decrypted with the configured key")
		case err != nil:
			log.WithField("user", key.UserID).WithError(err).Warn("failed to load stored session")
		case s != nil:
			log.WithField("user", key.UserID).WithField("mode", s.Mode()).Debug("loaded stored session")
		}
	}
}

// DoKeygen prints a fresh encryption key for HEB_SESSION_KEY.
func DoKeygen() {
	key, err := store.GenerateKey()
	if err != nil {
		log.Errorf("failed to generate key: %v", err)
		os.Exit(1)
	}
	fmt.Println(key)
}
