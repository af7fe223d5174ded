// Package token caches provider bearer tokens per credential tuple and
// wraps data calls with a single forced re-login on authorization failures.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

// Token is an active bearer token.
type Token struct {
	Value     string
	Type      string
	SessionID string
	// ExpiresAt is when the cached token stops being used; the safety
	// margin is already subtracted.
	ExpiresAt time.Time
}

// AuthError is an authorization failure that survived the retry.
type AuthError struct {
	Provider string
	Branch   string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authorization failed for branch %s: %v", e.Provider, e.Branch, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// AuthClassifier recognizes authorization failures in provider errors.
type AuthClassifier interface {
	IsAuthFailure(err error) bool
}

// Settings tunes token handling for one provider.
type Settings struct {
	// DefaultTTL applies when the login response states no expiry.
	DefaultTTL time.Duration
	// SafetyMargin is subtracted from every expiry.
	SafetyMargin time.Duration
	// BearerOverride, when set, replaces login entirely.
	BearerOverride string
}

type provider struct {
	auth     upstream.Authenticator // nil for providers without tokens
	matcher  AuthClassifier
	settings Settings
}

type entry struct {
	mu    sync.Mutex
	token *Token
}

// ErrUnregistered is returned for a provider the manager does not know.
var ErrUnregistered = eris.New("token: provider not registered")

// Manager holds the token cache. The zero value is not usable; see New.
type Manager struct {
	now func() time.Time
	log *zap.Logger

	mu        sync.Mutex
	providers map[string]provider
	cache     map[string]*entry
}

// New creates a manager reading time from now (time.Now when nil).
func New(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		now:       now,
		log:       zap.L().With(zap.String("component", "token")),
		providers: make(map[string]provider),
		cache:     make(map[string]*entry),
	}
}

// Register adds a provider. auth may be nil for providers whose calls carry
// their credentials directly.
func (m *Manager) Register(name string, auth upstream.Authenticator, matcher AuthClassifier, s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = provider{auth: auth, matcher: matcher, settings: s}
}

func (m *Manager) provider(name string) (provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[name]
	if !ok {
		return provider{}, eris.Wrapf(ErrUnregistered, "token: %s", name)
	}
	return p, nil
}

func (m *Manager) entry(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[key]
	if !ok {
		e = &entry{}
		m.cache[key] = e
	}
	return e
}

// Get returns the cached token of t, logging in when there is none, it has
// expired or force is set. Concurrent callers for the same tuple share one
// login.
func (m *Manager) Get(ctx context.Context, t credential.Tuple, force bool) (Token, error) {
	p, err := m.provider(t.Provider)
	if err != nil {
		return Token{}, err
	}
	if p.settings.BearerOverride != "" {
		return Token{Value: p.settings.BearerOverride, Type: "Bearer"}, nil
	}
	if p.auth == nil {
		return Token{}, nil
	}

	e := m.entry(t.CacheKey())
	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.now()
	if !force && e.token != nil && now.Before(e.token.ExpiresAt) {
		return *e.token, nil
	}

	res, err := p.auth.Login(ctx, t)
	if err != nil {
		e.token = nil
		if p.matcher != nil && p.matcher.IsAuthFailure(err) {
			return Token{}, &AuthError{Provider: t.Provider, Branch: t.Branch, Err: err}
		}
		return Token{}, err
	}

	tok := Token{
		Value:     res.Token,
		Type:      res.Type,
		SessionID: res.SessionID,
		ExpiresAt: expiry(now, res, p.settings),
	}
	e.token = &tok
	m.log.Debug("token issued",
		zap.String("provider", t.Provider),
		zap.String("branch", t.Branch),
		zap.Time("expires_at", tok.ExpiresAt),
	)
	return tok, nil
}

// expiry prefers the provider's absolute expiry, then its stated duration,
// then the configured default.
func expiry(now time.Time, res upstream.LoginResult, s Settings) time.Time {
	var at time.Time
	switch {
	case !res.ExpiresAt.IsZero():
		at = res.ExpiresAt
	case res.TTL > 0:
		at = now.Add(res.TTL)
	default:
		at = now.Add(s.DefaultTTL)
	}
	return at.Add(-s.SafetyMargin)
}

// Invalidate drops the cached token of t.
func (m *Manager) Invalidate(t credential.Tuple) {
	e := m.entry(t.CacheKey())
	e.mu.Lock()
	e.token = nil
	e.mu.Unlock()
}

// IsAuthFailure reports whether err is an authorization failure for the
// provider.
func (m *Manager) IsAuthFailure(providerName string, err error) bool {
	p, perr := m.provider(providerName)
	if perr != nil || p.matcher == nil {
		return false
	}
	return p.matcher.IsAuthFailure(err)
}

// WithRetry obtains a token, forcing a fresh login when refreshFirst is
// set, and calls fn with it. On an authorization failure the token is
// dropped and fn runs once more with a forced refresh; a second
// authorization failure is returned as *AuthError. Other errors are
// returned as they are. Providers without tokens get an empty token and
// no retry.
func WithRetry[T any](ctx context.Context, m *Manager, t credential.Tuple, refreshFirst bool, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T
	p, err := m.provider(t.Provider)
	if err != nil {
		return zero, err
	}

	authErr := func(err error) error {
		if p.matcher != nil && p.matcher.IsAuthFailure(err) {
			return &AuthError{Provider: t.Provider, Branch: t.Branch, Err: err}
		}
		return err
	}

	tok, err := m.Get(ctx, t, refreshFirst)
	if err != nil {
		return zero, err
	}
	v, err := fn(ctx, tok.Value)
	if err == nil {
		return v, nil
	}
	if p.auth == nil || p.settings.BearerOverride != "" || p.matcher == nil || !p.matcher.IsAuthFailure(err) {
		return zero, authErr(err)
	}

	m.log.Info("authorization rejected, refreshing token",
		zap.String("provider", t.Provider),
		zap.String("branch", t.Branch),
		zap.Error(err),
	)
	m.Invalidate(t)
	if tok, err = m.Get(ctx, t, true); err != nil {
		return zero, err
	}
	v, err = fn(ctx, tok.Value)
	if err != nil {
		return zero, authErr(err)
	}
	return v, nil
}
