package token

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

type mockAuth struct {
	mock.Mock
}

func (m *mockAuth) Login(ctx context.Context, cred credential.Tuple) (upstream.LoginResult, error) {
	args := m.Called(ctx, cred)
	return args.Get(0).(upstream.LoginResult), args.Error(1)
}

type countingAuth struct {
	logins int
	ttl    time.Duration
	err    error
}

func (c *countingAuth) Login(context.Context, credential.Tuple) (upstream.LoginResult, error) {
	c.logins++
	if c.err != nil {
		return upstream.LoginResult{}, c.err
	}
	return upstream.LoginResult{Token: fmt.Sprintf("tok-%d", c.logins), TTL: c.ttl}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func matcher(t *testing.T) *upstream.AuthMatcher {
	t.Helper()
	m, err := upstream.NewAuthMatcher([]string{`\bAPI-cli-1\b`})
	require.NoError(t, err)
	return m
}

func tuple(branch string) credential.Tuple {
	return credential.Tuple{
		Provider: "monroe",
		Branch:   branch,
		Fields:   map[string]string{credential.CustomerReference: "ref-" + branch, credential.SoftwareKey: "sw"},
		Identity: []string{credential.CustomerReference},
	}
}

func setup(t *testing.T, auth upstream.Authenticator, s Settings) (*Manager, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	m := New(c.now)
	m.Register("monroe", auth, matcher(t), s)
	return m, c
}

func TestGet_ReuseThenRefreshAfterExpiry(t *testing.T) {
	auth := &countingAuth{}
	m, c := setup(t, auth, Settings{DefaultTTL: 25 * time.Minute, SafetyMargin: 5 * time.Second})
	ctx := context.Background()

	first, err := m.Get(ctx, tuple("SA1"), false)
	require.NoError(t, err)
	c.t = c.t.Add(10 * time.Minute)
	second, err := m.Get(ctx, tuple("SA1"), false)
	require.NoError(t, err)

	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, 1, auth.logins)

	c.t = c.t.Add(15 * time.Minute)
	third, err := m.Get(ctx, tuple("SA1"), false)
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, third.Value)
	assert.Equal(t, 2, auth.logins)
}

func TestGet_SafetyMarginAndExpiryOrder(t *testing.T) {
	abs := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	auth := &mockAuth{}
	auth.On("Login", mock.Anything, mock.Anything).Return(upstream.LoginResult{Token: "a", ExpiresAt: abs, TTL: time.Hour}, nil).Once()
	auth.On("Login", mock.Anything, mock.Anything).Return(upstream.LoginResult{Token: "b", TTL: 10 * time.Minute}, nil).Once()
	auth.On("Login", mock.Anything, mock.Anything).Return(upstream.LoginResult{Token: "c"}, nil).Once()

	m, c := setup(t, auth, Settings{DefaultTTL: 25 * time.Minute, SafetyMargin: 5 * time.Second})
	ctx := context.Background()

	tok, err := m.Get(ctx, tuple("SA1"), true)
	require.NoError(t, err)
	assert.Equal(t, abs.Add(-5*time.Second), tok.ExpiresAt)

	tok, err = m.Get(ctx, tuple("SA1"), true)
	require.NoError(t, err)
	assert.Equal(t, c.t.Add(10*time.Minute-5*time.Second), tok.ExpiresAt)

	tok, err = m.Get(ctx, tuple("SA1"), true)
	require.NoError(t, err)
	assert.Equal(t, c.t.Add(25*time.Minute-5*time.Second), tok.ExpiresAt)
	auth.AssertExpectations(t)
}

func TestGet_TuplesDoNotShareTokens(t *testing.T) {
	auth := &countingAuth{}
	m, _ := setup(t, auth, Settings{DefaultTTL: time.Hour})

	a, err := m.Get(context.Background(), tuple("SA1"), false)
	require.NoError(t, err)
	b, err := m.Get(context.Background(), tuple("SA2"), false)
	require.NoError(t, err)
	assert.NotEqual(t, a.Value, b.Value)
	assert.Equal(t, 2, auth.logins)
}

func TestInvalidate(t *testing.T) {
	auth := &countingAuth{}
	m, _ := setup(t, auth, Settings{DefaultTTL: time.Hour})

	_, err := m.Get(context.Background(), tuple("SA1"), false)
	require.NoError(t, err)
	m.Invalidate(tuple("SA1"))
	_, err = m.Get(context.Background(), tuple("SA1"), false)
	require.NoError(t, err)
	assert.Equal(t, 2, auth.logins)
}

func TestGet_LoginAuthFailure(t *testing.T) {
	auth := &countingAuth{err: &upstream.Error{Provider: "monroe", Status: 401, Message: "bad key"}}
	m, _ := setup(t, auth, Settings{})

	_, err := m.Get(context.Background(), tuple("SA1"), false)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "SA1", ae.Branch)
}

func TestGet_Unregistered(t *testing.T) {
	m := New(nil)
	_, err := m.Get(context.Background(), tuple("SA1"), false)
	assert.ErrorIs(t, err, ErrUnregistered)
}

func TestWithRetry_RetriesOnceOnAuthFailure(t *testing.T) {
	auth := &countingAuth{}
	m, _ := setup(t, auth, Settings{DefaultTTL: time.Hour})

	calls := 0
	var tokens []string
	v, err := WithRetry(context.Background(), m, tuple("SA1"), false, func(_ context.Context, tok string) (string, error) {
		calls++
		tokens = append(tokens, tok)
		if calls == 1 {
			return "", &upstream.Error{Provider: "monroe", Status: 400, Message: "API-cli-1 token vencido"}
		}
		return "data", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "data", v)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, auth.logins)
	assert.Equal(t, []string{"tok-1", "tok-2"}, tokens)
}

func TestWithRetry_SecondAuthFailureIsAuthError(t *testing.T) {
	auth := &countingAuth{}
	m, _ := setup(t, auth, Settings{DefaultTTL: time.Hour})

	calls := 0
	_, err := WithRetry(context.Background(), m, tuple("SA1"), false, func(context.Context, string) (int, error) {
		calls++
		return 0, &upstream.Error{Provider: "monroe", Status: 401, Message: "unauthorized"}
	})
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_OtherErrorsNotRetried(t *testing.T) {
	auth := &countingAuth{}
	m, _ := setup(t, auth, Settings{DefaultTTL: time.Hour})

	boom := errors.New("decode failure")
	calls := 0
	_, err := WithRetry(context.Background(), m, tuple("SA1"), false, func(context.Context, string) (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, auth.logins)
}

func TestWithRetry_RefreshFirstForcesLogin(t *testing.T) {
	auth := &countingAuth{}
	m, _ := setup(t, auth, Settings{DefaultTTL: time.Hour})
	ctx := context.Background()

	_, err := m.Get(ctx, tuple("SA1"), false)
	require.NoError(t, err)

	tok, err := WithRetry(ctx, m, tuple("SA1"), true, func(_ context.Context, tok string) (string, error) { return tok, nil })
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)

	tok, err = WithRetry(ctx, m, tuple("SA1"), false, func(_ context.Context, tok string) (string, error) { return tok, nil })
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, auth.logins)
}

func TestWithRetry_StatelessProvider(t *testing.T) {
	m := New(nil)
	mt, err := upstream.NewAuthMatcher([]string{`(?i)credenciales incompletas`})
	require.NoError(t, err)
	m.Register("cofarsur", nil, mt, Settings{})
	tup := credential.Tuple{Provider: "cofarsur", Branch: "SA3"}

	calls := 0
	_, err = WithRetry(context.Background(), m, tup, true, func(_ context.Context, tok string) (int, error) {
		calls++
		assert.Empty(t, tok)
		return 0, &upstream.Error{Provider: "cofarsur", Status: 200, Message: "Credenciales incompletas"}
	})
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_BearerOverride(t *testing.T) {
	auth := &countingAuth{}
	m, _ := setup(t, auth, Settings{BearerOverride: "fixed"})

	tok, err := WithRetry(context.Background(), m, tuple("SA1"), true, func(_ context.Context, tok string) (string, error) { return tok, nil })
	require.NoError(t, err)
	assert.Equal(t, "fixed", tok)
	assert.Zero(t, auth.logins)
}
