package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/example/compliance-viewer/internal/api"
	"github.com/example/compliance-viewer/internal/logging"
)

const flightKey = "session"

// ErrNoToken is returned by an exchange that produced no usable token
var ErrNoToken = errors.New("no access token")

// AuthenticationError is returned when the session exchange fails
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("failed to authenticate with API: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Authenticator performs the credential exchange
type Authenticator interface {
	CreateSession(ctx context.Context) (api.SessionResponse, error)
}

// Token is a cached bearer credential
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Manager obtains, caches and renews the session token. At most one
// exchange is in flight at any time; concurrent callers share its result.
type Manager struct {
	auth  Authenticator
	log   zerolog.Logger
	now   func() time.Time
	group singleflight.Group

	mu    sync.Mutex
	token *Token
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager with an empty cache
func NewManager(auth Authenticator, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		auth: auth,
		log:  logging.Component(log, "session"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetToken returns the cached token while it is valid and authenticates otherwise
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	if token, ok := m.CachedToken(); ok {
		return token, nil
	}
	return m.flight(ctx, true)
}

// CachedToken returns the cached token if one is present and not expired.
// It never triggers an exchange.
func (m *Manager) CachedToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil || !m.now().Before(m.token.ExpiresAt) {
		return "", false
	}
	return m.token.AccessToken, true
}

// Authenticate performs the session exchange and caches the result. A
// failure leaves any previously cached token in place.
func (m *Manager) Authenticate(ctx context.Context) (string, error) {
	return m.flight(ctx, false)
}

// flight runs one exchange shared by every concurrent caller. With reuse
// set, a token cached by a flight that finished in the meantime is returned
// instead of exchanging again.
func (m *Manager) flight(ctx context.Context, reuse bool) (string, error) {
	ch := m.group.DoChan(flightKey, func() (interface{}, error) {
		if reuse {
			if token, ok := m.CachedToken(); ok {
				return token, nil
			}
		}
		// the exchange outlives a caller that stops waiting so others can still use it
		return m.exchange(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &AuthenticationError{Err: ctx.Err()}
	}
}

// ClearToken drops the cached token so the next GetToken authenticates
func (m *Manager) ClearToken() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
	m.log.Debug().Msg("session token cleared")
}

func (m *Manager) exchange(ctx context.Context) (string, error) {
	m.log.Info().Msg("authenticating with API")

	resp, err := m.auth.CreateSession(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("authentication failed")
		return "", &AuthenticationError{Err: err}
	}
	if resp.AccessToken == "" {
		return "", &AuthenticationError{Err: ErrNoToken}
	}

	token := &Token{
		AccessToken: resp.AccessToken,
		ExpiresAt:   m.expiry(resp),
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	m.log.Info().Time("expires_at", token.ExpiresAt).Msg("session established")
	return token.AccessToken, nil
}

// expiry prefers the absolute expiresAt and falls back to expiresIn.
// A response with neither yields a token that is never reused.
func (m *Manager) expiry(resp api.SessionResponse) time.Time {
	if resp.ExpiresAt != "" {
		if at, err := time.Parse(time.RFC3339Nano, resp.ExpiresAt); err == nil {
			return at
		}
		m.log.Warn().Str("expires_at", resp.ExpiresAt).Msg("unparsable session expiry")
	}
	if resp.ExpiresIn > 0 {
		return m.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return time.Time{}
}
