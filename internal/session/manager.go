// Package session issues and resolves login tokens for the fixed clinician
// account.
package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/strokeinsight/internal/storage"
)

var (
	// ErrUnauthorized is returned for unknown credentials or tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrExpired is returned for a token past its expiry.
	ErrExpired = errors.New("session expired")
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SaveSession(s storage.Session) error
	GetSession(token string) (storage.Session, error)
	DeleteExpiredSessions(now time.Time) (int64, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Credentials is the single account allowed to log in.
type Credentials struct {
	Username string
	UserID   string
	Role     string
}

// Session is an authenticated user.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// DefaultTTL is how long a session stays valid.
const DefaultTTL = 12 * time.Hour

// Manager issues sessions and resolves tokens, caching resolved sessions in
// memory until they expire.
type Manager struct {
	store  Store
	creds  Credentials
	ttl    time.Duration
	clock  Clock
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]Session
}

// NewManager creates a Manager. A non-positive ttl defaults to DefaultTTL.
func NewManager(store Store, creds Credentials, ttl time.Duration) *Manager {
	return NewManagerWithClock(store, creds, ttl, realClock{})
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, creds Credentials, ttl time.Duration, clock Clock) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		creds:  creds,
		ttl:    ttl,
		clock:  clock,
		logger: slog.Default(),
		cache:  make(map[string]Session),
	}
}

// Login checks the credential pair and issues a new session.
func (m *Manager) Login(username, userID string) (Session, error) {
	if m.creds.Username == "" || m.creds.UserID == "" {
		return Session{}, ErrUnauthorized
	}
	nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.creds.Username)) == 1
	idOK := subtle.ConstantTimeCompare([]byte(userID), []byte(m.creds.UserID)) == 1
	if !nameOK || !idOK {
		return Session{}, ErrUnauthorized
	}

	now := m.clock.Now().UTC().Truncate(time.Second)
	rec := storage.Session{
		Token:     uuid.NewString(),
		UserID:    m.creds.UserID,
		Username:  m.creds.Username,
		Role:      m.creds.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.SaveSession(rec); err != nil {
		return Session{}, fmt.Errorf("saving session: %w", err)
	}

	sess := fromRecord(rec)
	m.mu.Lock()
	m.cache[sess.Token] = sess
	m.mu.Unlock()
	return sess, nil
}

// Resolve returns the session for token.
func (m *Manager) Resolve(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrUnauthorized
	}
	now := m.clock.Now()

	m.mu.RLock()
	sess, ok := m.cache[token]
	m.mu.RUnlock()

	if !ok {
		rec, err := m.store.GetSession(token)
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, ErrUnauthorized
		}
		if err != nil {
			return Session{}, fmt.Errorf("loading session: %w", err)
		}
		sess = fromRecord(rec)
		m.mu.Lock()
		m.cache[token] = sess
		m.mu.Unlock()
	}

	if !now.Before(sess.ExpiresAt) {
		m.mu.Lock()
		delete(m.cache, token)
		m.mu.Unlock()
		return Session{}, ErrExpired
	}
	return sess, nil
}

// Prune drops expired sessions from the store and the cache.
func (m *Manager) Prune() {
	now := m.clock.Now()
	n, err := m.store.DeleteExpiredSessions(now)
	if err != nil {
		m.logger.Warn("pruning sessions failed", "error", err)
		return
	}

	m.mu.Lock()
	for token, s := range m.cache {
		if !now.Before(s.ExpiresAt) {
			delete(m.cache, token)
		}
	}
	m.mu.Unlock()

	if n > 0 {
		m.logger.Debug("pruned expired sessions", "count", n)
	}
}

func fromRecord(r storage.Session) Session {
	return Session{
		Token:     r.Token,
		UserID:    r.UserID,
		Username:  r.Username,
		Role:      r.Role,
		ExpiresAt: r.ExpiresAt,
	}
}
