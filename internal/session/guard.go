package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/heb-mcp/hebsession/internal/auth/credential"
	log "github.com/sirupsen/logrus"
)

// ErrRefreshFailed wraps every error produced by a refresh attempt.
var ErrRefreshFailed = errors.New("session: token refresh failed")

// RefreshFunc exchanges the current tokens for new ones.
type RefreshFunc func(ctx context.Context, current credential.TokenBundle) (credential.TokenBundle, error)

const refreshFlightKey = "refresh"

// EnsureFresh refreshes a bearer credential that is within RefreshBuffer of expiring. Concurrent
// callers share one in-flight refresh and all observe its outcome. On failure the credential is
// left as it was and the next call retries.
//
// A caller whose ctx ends stops waiting; the refresh itself keeps running for the others.
func (s *Session) EnsureFresh(ctx context.Context) error {
	if !s.needsRefresh() {
		return nil
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(refreshFlightKey, func() (any, error) {
		return nil, s.refresh(flightCtx)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("%w: %w", ErrRefreshFailed, res.Err)
		}
		return nil
	}
}

func (s *Session) needsRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode != ModeBearer || s.refresher == nil || !s.hasExpiry {
		return false
	}
	return !s.now().Before(s.expiry.Add(-RefreshBuffer))
}

// ErrRefresherPanicked is wrapped when the refresh callback panics.
var ErrRefresherPanicked = errors.New("session: refresher panicked")

func (s *Session) refresh(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("mode", ModeBearer).Errorf("session: refresher panicked: %v", r)
			err = fmt.Errorf("%w: %v", ErrRefresherPanicked, r)
		}
	}()
	// A flight that finished just before this one may already have fixed the credential.
	if !s.needsRefresh() {
		return nil
	}
	s.mu.RLock()
	current := s.tokens
	refresher := s.refresher
	debug := s.debug
	s.mu.RUnlock()

	if debug {
		log.WithField("mode", ModeBearer).Debug("session: refreshing access token")
	}
	next, err := refresher(ctx, current)
	if err != nil {
		return err
	}
	if strings.TrimSpace(next.RefreshToken) == "" {
		next.RefreshToken = current.RefreshToken
	}
	if err = s.UpdateTokens(next); err != nil {
		return fmt.Errorf("refresher returned unusable tokens: %w", err)
	}
	if debug {
		expiry, _ := s.Expiry()
		log.WithField("mode", ModeBearer).Debugf("session: access token refreshed, expires %s", expiry.Format(time.RFC3339))
	}
	return nil
}
