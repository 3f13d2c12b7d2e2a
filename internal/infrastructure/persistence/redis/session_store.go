package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
	"github.com/analizadordatos/smart-analytics/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION STORE
// The login service writes {"role","email","name"} under session:<token>.
// Lookups may slide the expiry by the configured TTL.
// ══════════════════════════════════════════════════════════════════════════════

// SessionStore resolves opaque bearer tokens to sessions.
type SessionStore struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

// SessionStoreOption configures SessionStore.
type SessionStoreOption func(*SessionStore)

// WithSessionBreaker replaces the default breaker.
func WithSessionBreaker(cb *circuitbreaker.CircuitBreaker) SessionStoreOption {
	return func(s *SessionStore) { s.breaker = cb }
}

// NewSessionStore creates a SessionStore. With ttl <= 0 lookups leave the
// expiry set by the login service untouched.
func NewSessionStore(cache *Cache, ttl time.Duration, opts ...SessionStoreOption) *SessionStore {
	if ttl < 0 {
		ttl = 0
	}
	s := &SessionStore{
		cache:   cache,
		ttl:     ttl,
		breaker: circuitbreaker.SessionBreaker(IsBenign, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ access.SessionSource     = (*SessionStore)(nil)
	_ access.SessionTerminator = (*SessionStore)(nil)
)

// Lookup returns the session for token and slides its expiry.
func (s *SessionStore) Lookup(ctx context.Context, token string) (*access.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, shared.ErrInvalidToken
	}

	var sess access.Session
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		if s.ttl == 0 {
			return s.cache.Get(ctx, SessionKey(token), &sess)
		}
		return s.cache.GetEx(ctx, SessionKey(token), &sess, s.ttl)
	})
	if err != nil {
		if IsMiss(err) {
			return nil, shared.ErrSessionNotFound
		}
		// A value the login service did not write is a bad token, not an outage.
		if errors.Is(err, ErrCacheSerialization) {
			return nil, shared.ErrInvalidToken
		}
		return nil, shared.WrapError("session", "Lookup", shared.ErrServiceUnavailable, "session store unavailable", err)
	}
	return &sess, nil
}

// Terminate deletes the session. Unknown tokens are ignored.
func (s *SessionStore) Terminate(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return shared.ErrInvalidToken
	}
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, SessionKey(token))
	})
	if err != nil {
		return shared.WrapError("session", "Terminate", shared.ErrServiceUnavailable, "session store unavailable", err)
	}
	return nil
}

// BreakerState reports the lookup breaker for the health endpoint.
func (s *SessionStore) BreakerState() circuitbreaker.State {
	return s.breaker.State()
}
