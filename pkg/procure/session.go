package procure

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token store keys. A store holds exactly these three entries while a
// session is active and none of them after a failed refresh.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyRole         = "role"
)

// ErrSessionExpired is returned when the refresh token has been rejected
// and the caller must authenticate again.
var ErrSessionExpired = errors.New("procure: session expired, sign in again")

// TokenStore persists session credentials between client restarts.
type TokenStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// MemoryStore is a TokenStore backed by a map. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// refresher exchanges a refresh token for a new access/refresh pair.
// Implemented by Client; narrowed to an interface so Session can be
// tested without a server.
type refresher interface {
	refreshTokens(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// Session manages the stored token triple and transparently refreshes
// the access token when it is close to expiry.
type Session struct {
	mu    sync.Mutex
	store TokenStore
	api   refresher

	// leeway treats tokens expiring within this window as already
	// expired so requests do not race the server clock.
	leeway time.Duration

	now func() time.Time
}

func NewSession(store TokenStore, api refresher) *Session {
	return &Session{
		store:  store,
		api:    api,
		leeway: 30 * time.Second,
		now:    time.Now,
	}
}

// Establish records a fresh login result in the store.
func (s *Session) Establish(access, refresh, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(KeyAccessToken, access); err != nil {
		return err
	}
	if err := s.store.Set(KeyRefreshToken, refresh); err != nil {
		return err
	}
	return s.store.Set(KeyRole, role)
}

// Role returns the stored role, or empty string when signed out.
func (s *Session) Role() string {
	role, _ := s.store.Get(KeyRole)
	return role
}

// Active reports whether credentials are present in the store.
func (s *Session) Active() bool {
	_, ok := s.store.Get(KeyAccessToken)
	return ok
}

// ValidAccessToken returns an access token that is not expired,
// refreshing it first when necessary. A failed refresh, whatever the
// cause, clears the whole store and returns ErrSessionExpired; the
// caller should route the user back to login.
func (s *Session) ValidAccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	access, ok := s.store.Get(KeyAccessToken)
	if !ok {
		return "", ErrSessionExpired
	}
	if !s.expired(access) {
		return access, nil
	}

	refresh, ok := s.store.Get(KeyRefreshToken)
	if !ok {
		s.clearLocked()
		return "", ErrSessionExpired
	}

	newAccess, newRefresh, err := s.api.refreshTokens(ctx, refresh)
	if err != nil {
		// Any failure ends the session: a stale refresh token is
		// worthless and keeping it around just delays the re-login.
		s.clearLocked()
		return "", ErrSessionExpired
	}

	if err := s.store.Set(KeyAccessToken, newAccess); err != nil {
		return "", err
	}
	if err := s.store.Set(KeyRefreshToken, newRefresh); err != nil {
		return "", err
	}
	return newAccess, nil
}

// Clear signs the session out locally.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Session) clearLocked() {
	s.store.Delete(KeyAccessToken)
	s.store.Delete(KeyRefreshToken)
	s.store.Delete(KeyRole)
}

// expired decodes the token's exp claim without verifying the
// signature; the server remains the authority, this only avoids
// sending a request that is guaranteed to 401.
func (s *Session) expired(token string) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !exp.After(s.now().Add(s.leeway))
}
