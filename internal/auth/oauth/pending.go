package oauth

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPendingTTL bounds how long a started login may take to come back.
	DefaultPendingTTL = 10 * time.Minute

	maxStateLength = 128
)

type pendingLogin struct {
	ctx       *Context
	userID    string
	expiresAt time.Time
}

// Pending tracks logins between the authorization redirect and the callback. Each state can be
// consumed once.
type Pending struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	logins map[string]pendingLogin
}

// NewPending creates a registry; a non-positive ttl uses DefaultPendingTTL.
func NewPending(ttl time.Duration) *Pending {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Pending{ttl: ttl, now: time.Now, logins: make(map[string]pendingLogin)}
}

func (p *Pending) purgeExpiredLocked(now time.Time) {
	for state, login := range p.logins {
		if now.After(login.expiresAt) {
			delete(p.logins, state)
		}
	}
}

// Register records pc as started by userID.
func (p *Pending) Register(pc *Context, userID string) error {
	if pc == nil {
		return fmt.Errorf("%w: context is nil", ErrInvalidState)
	}
	if err := ValidateState(pc.State); err != nil {
		return err
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.purgeExpiredLocked(now)
	p.logins[pc.State] = pendingLogin{ctx: pc, userID: userID, expiresAt: now.Add(p.ttl)}
	return nil
}

// Consume removes and returns the login for state.
func (p *Pending) Consume(state string) (*Context, string, error) {
	state = strings.TrimSpace(state)
	if err := ValidateState(state); err != nil {
		return nil, "", err
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.purgeExpiredLocked(now)
	login, ok := p.logins[state]
	if !ok {
		return nil, "", ErrUnknownState
	}
	delete(p.logins, state)
	return login.ctx, login.userID, nil
}

// Len returns the number of unexpired pending logins.
func (p *Pending) Len() int {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purgeExpiredLocked(now)
	return len(p.logins)
}

// ValidateState rejects empty, oversized or oddly shaped state values before they are used as
// map keys or echoed back.
func ValidateState(state string) error {
	trimmed := strings.TrimSpace(state)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidState)
	}
	if len(trimmed) > maxStateLength {
		return fmt.Errorf("%w: too long", ErrInvalidState)
	}
	if strings.Contains(trimmed, "..") {
		return fmt.Errorf("%w: contains '..'", ErrInvalidState)
	}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("%w: invalid character", ErrInvalidState)
		}
	}
	return nil
}
