package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = NewTransientError(errors.New("upstream 503"), 503)

func tripped(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errUpstream })
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("monroe", BreakerConfig{})

	calls := 0
	err := cb.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("suizo", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	tripped(t, cb, 3)
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Error("call must be rejected while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_NonTransientDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("cofarsur", BreakerConfig{FailureThreshold: 2})
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("bad credentials") })
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("monroe", BreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	tripped(t, cb, 1)
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("monroe", BreakerConfig{FailureThreshold: 2, ResetTimeout: 10 * time.Second})
	cb.nowFunc = func() time.Time { return now }

	tripped(t, cb, 2)
	now = now.Add(11 * time.Second)
	tripped(t, cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("suizo", BreakerConfig{FailureThreshold: 1})
	tripped(t, cb, 1)
	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker("kellerhoff", BreakerConfig{FailureThreshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				if i%2 == 0 {
					return errUpstream
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestExecuteVal(t *testing.T) {
	cb := NewCircuitBreaker("monroe", BreakerConfig{FailureThreshold: 1})

	v, err := ExecuteVal(context.Background(), cb, func(context.Context) (string, error) { return "token", nil })
	require.NoError(t, err)
	assert.Equal(t, "token", v)

	tripped(t, cb, 1)
	v, err = ExecuteVal(context.Background(), cb, func(context.Context) (string, error) { return "never", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Empty(t, v)
}

func TestBreakers(t *testing.T) {
	b := NewBreakers(BreakerConfig{FailureThreshold: 1})
	m := b.Get("monroe")
	assert.Same(t, m, b.Get("monroe"))
	assert.NotSame(t, m, b.Get("suizo"))

	tripped(t, m, 1)
	states := b.States()
	assert.Equal(t, CircuitOpen, states["monroe"])
	assert.Equal(t, CircuitClosed, states["suizo"])
}

func TestBreakers_Configure(t *testing.T) {
	b := NewBreakers(BreakerConfig{FailureThreshold: 10})
	cb := b.Configure("cofarsur", BreakerConfig{FailureThreshold: 1})
	assert.Same(t, cb, b.Get("cofarsur"))

	tripped(t, cb, 1)
	assert.Equal(t, CircuitOpen, b.States()["cofarsur"])
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
