// Package tenant caches one Session and GraphQL client per user in front of the credential
// store. The store is the source of truth: every update is persisted before the cache changes.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heb-mcp/hebsession/internal/auth/credential"
	"github.com/heb-mcp/hebsession/internal/client"
	"github.com/heb-mcp/hebsession/internal/metrics"
	"github.com/heb-mcp/hebsession/internal/session"
	"github.com/heb-mcp/hebsession/internal/store"
	log "github.com/sirupsen/logrus"
)

const warmUpTimeout = 30 * time.Second

// TokenRefresher redeems a refresh token. *oauth.Client satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (credential.TokenBundle, error)
}

// Options configures a Manager.
type Options struct {
	// Refresher is attached to bearer sessions that carry a refresh token.
	Refresher TokenRefresher
	// SessionOptions are applied to every session built by the manager.
	SessionOptions []session.Option
	// HTTPClient is shared by every derived GraphQL client.
	HTTPClient *http.Client
	// ClientOptions are applied to every derived GraphQL client.
	ClientOptions []client.Option
	// DisableWarmUp skips the background build id lookup after a load.
	DisableWarmUp bool
	// Now replaces the clock used for record timestamps.
	Now func() time.Time
}

type entry struct {
	session   *session.Session
	client    *client.Client
	updatedAt time.Time
	touched   time.Time
}

// Manager owns the per-user cache.
type Manager struct {
	store store.Store
	opts  Options

	mu      sync.RWMutex
	entries map[string]*entry

	warmups sync.WaitGroup
}

// NewManager builds a manager over st.
func NewManager(st store.Store, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{store: st, opts: opts, entries: make(map[string]*entry)}
}

func cacheKey(userID string) (string, error) {
	return store.SanitizeUserID(userID)
}

// LoadUser reads the user's record and caches a session for it. A missing record evicts any
// cached session and yields (nil, nil).
func (m *Manager) LoadUser(ctx context.Context, userID string) (*session.Session, error) {
	key, err := cacheKey(userID)
	if err != nil {
		return nil, err
	}
	rec, err := m.store.Load(ctx, key)
	metrics.StoreOperations.WithLabelValues("load", metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	if rec.Empty() {
		m.evict(key)
		return nil, nil
	}
	e, err := m.build(key, rec)
	if err != nil {
		return nil, fmt.Errorf("tenant: build session for %s: %w", key, err)
	}
	m.put(key, e)
	m.warmUp(key, e.client)
	return e.session, nil
}

// Sync reconciles the cache with the store after an external change. Unchanged records are left
// alone so in-memory state such as the store context survives.
func (m *Manager) Sync(ctx context.Context, userID string) error {
	key, err := cacheKey(userID)
	if err != nil {
		return err
	}
	rec, err := m.store.Load(ctx, key)
	metrics.StoreOperations.WithLabelValues("load", metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	if rec.Empty() {
		m.evict(key)
		return nil
	}
	m.mu.RLock()
	current, ok := m.entries[key]
	m.mu.RUnlock()
	if ok && current.updatedAt.Equal(rec.UpdatedAt) {
		return nil
	}
	e, err := m.build(key, rec)
	if err != nil {
		return fmt.Errorf("tenant: build session for %s: %w", key, err)
	}
	m.put(key, e)
	log.WithField("user", key).Info("tenant: reloaded session after external change")
	return nil
}

// SaveCookies persists a cookie bundle for the user and caches a cookie-mode session.
func (m *Manager) SaveCookies(ctx context.Context, userID string, bundle credential.CookieBundle) (*session.Session, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	key, err := cacheKey(userID)
	if err != nil {
		return nil, err
	}
	cookies := bundle.Clone()
	rec := &store.Record{Cookies: &cookies, UpdatedAt: m.opts.Now().UTC()}
	return m.persist(ctx, key, rec)
}

// SaveTokens persists a token bundle, keeping existingCookies alongside it when given, and
// caches a bearer-mode session.
func (m *Manager) SaveTokens(ctx context.Context, userID string, tokens credential.TokenBundle, existingCookies *credential.CookieBundle) (*session.Session, error) {
	if err := tokens.Validate(); err != nil {
		return nil, err
	}
	key, err := cacheKey(userID)
	if err != nil {
		return nil, err
	}
	now := m.opts.Now()
	pinned := tokens.Pin(now)
	rec := &store.Record{Tokens: &pinned, UpdatedAt: now.UTC()}
	if existingCookies != nil {
		cookies := existingCookies.Clone()
		rec.Cookies = &cookies
	}
	return m.persist(ctx, key, rec)
}

func (m *Manager) persist(ctx context.Context, key string, rec *store.Record) (*session.Session, error) {
	e, err := m.build(key, rec)
	if err != nil {
		return nil, err
	}
	err = m.store.Save(ctx, key, rec)
	metrics.StoreOperations.WithLabelValues("save", metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	m.put(key, e)
	return e.session, nil
}

// StoredCookies returns the cookie bundle on record for the user, or nil. Bearer sessions do not
// carry cookies in memory, so this reads the store.
func (m *Manager) StoredCookies(ctx context.Context, userID string) (*credential.CookieBundle, error) {
	key, err := cacheKey(userID)
	if err != nil {
		return nil, err
	}
	if s, ok := m.GetSession(key); ok {
		if cookies, isCookie := s.Cookies(); isCookie {
			return &cookies, nil
		}
	}
	rec, err := m.store.Load(ctx, key)
	metrics.StoreOperations.WithLabelValues("load", metrics.Result(err)).Inc()
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Cookies, nil
}

// GetSession returns the cached session without touching the store.
func (m *Manager) GetSession(userID string) (*session.Session, bool) {
	e, ok := m.touch(userID)
	if !ok {
		return nil, false
	}
	return e.session, true
}

// GetClient returns the cached GraphQL client without touching the store.
func (m *Manager) GetClient(userID string) (*client.Client, bool) {
	e, ok := m.touch(userID)
	if !ok {
		return nil, false
	}
	return e.client, true
}

// SignOut deletes the user's record and evicts the cached session.
func (m *Manager) SignOut(ctx context.Context, userID string) error {
	key, err := cacheKey(userID)
	if err != nil {
		return err
	}
	err = m.store.Delete(ctx, key)
	metrics.StoreOperations.WithLabelValues("delete", metrics.Result(err)).Inc()
	if err != nil {
		return err
	}
	m.evict(key)
	return nil
}

// Users returns the cached user ids, sorted.
func (m *Manager) Users() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.entries))
	for id := range m.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// LastUsed returns when the user's cached session was last handed out.
func (m *Manager) LastUsed(userID string) (time.Time, bool) {
	key, err := cacheKey(userID)
	if err != nil {
		return time.Time{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.touched, true
}

// Wait blocks until every background warm-up has finished.
func (m *Manager) Wait() {
	m.warmups.Wait()
}

func (m *Manager) build(key string, rec *store.Record) (*entry, error) {
	var (
		s   *session.Session
		err error
	)
	switch {
	case rec.Tokens != nil:
		opts := append([]session.Option(nil), m.opts.SessionOptions...)
		if m.opts.Refresher != nil && rec.Tokens.RefreshToken != "" {
			opts = append(opts, session.WithRefresher(m.refresherFor(key)))
		}
		s, err = session.NewTokenSession(*rec.Tokens, opts...)
	case rec.Cookies != nil:
		s, err = session.NewCookieSession(*rec.Cookies, m.opts.SessionOptions...)
	default:
		err = errors.New("tenant: record has no credential")
	}
	if err != nil {
		return nil, err
	}
	clientOpts := append([]client.Option(nil), m.opts.ClientOptions...)
	if m.opts.HTTPClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(m.opts.HTTPClient))
	}
	return &entry{
		session:   s,
		client:    client.New(s, clientOpts...),
		updatedAt: rec.UpdatedAt,
		touched:   m.opts.Now(),
	}, nil
}

// refresherFor redeems the refresh token and writes the new tokens back to the store, keeping
// any cookies already on record. A failed write is logged; the refreshed tokens are still used.
func (m *Manager) refresherFor(key string) session.RefreshFunc {
	return func(ctx context.Context, current credential.TokenBundle) (credential.TokenBundle, error) {
		next, err := m.opts.Refresher.Refresh(ctx, current.RefreshToken)
		metrics.TokenRefreshes.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			log.WithField("user", key).WithError(err).Warn("tenant: token refresh failed")
			return credential.TokenBundle{}, err
		}
		if next.RefreshToken == "" {
			next.RefreshToken = current.RefreshToken
		}
		now := m.opts.Now()
		next = next.Pin(now)

		rec, errLoad := m.store.Load(ctx, key)
		metrics.StoreOperations.WithLabelValues("load", metrics.Result(errLoad)).Inc()
		if errLoad != nil || rec == nil {
			rec = &store.Record{}
		}
		rec.Tokens = &next
		rec.UpdatedAt = now.UTC()
		errSave := m.store.Save(ctx, key, rec)
		metrics.StoreOperations.WithLabelValues("save", metrics.Result(errSave)).Inc()
		if errSave != nil {
			log.WithField("user", key).WithError(errSave).Error("tenant: persist refreshed tokens")
		} else {
			m.mu.Lock()
			if e, ok := m.entries[key]; ok {
				e.updatedAt = rec.UpdatedAt
			}
			m.mu.Unlock()
		}
		return next, nil
	}
}

func (m *Manager) put(key string, e *entry) {
	m.mu.Lock()
	m.entries[key] = e
	n := len(m.entries)
	m.mu.Unlock()
	metrics.CachedSessions.Set(float64(n))
}

func (m *Manager) evict(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	n := len(m.entries)
	m.mu.Unlock()
	metrics.CachedSessions.Set(float64(n))
}

func (m *Manager) touch(userID string) (*entry, bool) {
	key, err := cacheKey(userID)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if ok {
		e.touched = m.opts.Now()
	}
	return e, ok
}

func (m *Manager) warmUp(key string, c *client.Client) {
	if m.opts.DisableWarmUp {
		return
	}
	m.warmups.Add(1)
	go func() {
		defer m.warmups.Done()
		ctx, cancel := context.WithTimeout(context.Background(), warmUpTimeout)
		defer cancel()
		if _, err := c.ResolveBuildID(ctx); err != nil {
			log.WithField("user", key).WithError(err).Warn("tenant: warm-up failed")
		}
	}()
}
