package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/provider-sync/internal/resilience"
	"github.com/pharmalink/provider-sync/internal/tree"
)

func newTestClient(t *testing.T, srv *httptest.Server, mod func(*ClientOptions)) *Client {
	t.Helper()
	opts := ClientOptions{Provider: "monroe", BaseURL: srv.URL, Timeout: 2 * time.Second}
	if mod != nil {
		mod(&opts)
	}
	c, err := NewClient(opts)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientOptions{Provider: "suizo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suizo base url")
}

func TestClient_URL(t *testing.T) {
	c, err := NewClient(ClientOptions{Provider: "monroe", BaseURL: "https://api.example.com/v1/"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/Auth/login", c.URL("/Auth/login", nil))
	assert.Equal(t, "https://api.example.com/v1/x?a=1", c.URL("x", map[string][]string{"a": {"1"}}))
}

func TestClient_URL_KeepsEscapedSegments(t *testing.T) {
	c, err := NewClient(ClientOptions{Provider: "monroe", BaseURL: "https://api.example.com/v1/"})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1/doc/ABC%201", c.URL("doc/ABC%201", nil))
	assert.Equal(t, "https://api.example.com/v1/doc/FC%20A%2F0001", c.URL("doc/FC%20A%2F0001", nil))
}

func TestDoJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		_, _ = w.Write([]byte(`{"total": 1234.50, "items": [1, 2]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	n, err := c.DoJSON(context.Background(), Request{Method: http.MethodPost, Path: "list", Body: []byte(`{"a":1}`), Bearer: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "1234.50", tree.String(tree.Get(n, "total")))
	assert.Len(t, tree.List(tree.Get(n, "items")), 2)
}

func TestDoJSON_ErrorStatusCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"mensaje": "API-cli-1 token vencido"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).DoJSON(context.Background(), Request{Path: "x"})
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 401, ue.Status)
	assert.Equal(t, "API-cli-1 token vencido", ue.Message)
	assert.Equal(t, "monroe", ue.Provider)
}

func TestDoJSON_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("fecha invalida"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).DoJSON(context.Background(), Request{Path: "x"})
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "fecha invalida", ue.Message)
}

func TestDoJSON_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, nil).DoJSON(context.Background(), Request{Path: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestDo_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv, func(o *ClientOptions) { o.Timeout = 50 * time.Millisecond })
	_, err := c.Do(context.Background(), Request{Path: "slow"})
	var une *UnavailableError
	require.ErrorAs(t, err, &une)
	assert.Equal(t, "monroe", une.Provider)
}

func TestDo_CallerCancellationPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t, srv, nil).Do(ctx, Request{Path: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	var une *UnavailableError
	assert.False(t, errors.As(err, &une))
}

func TestDo_ServerErrorsOpenBreaker(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker("monroe", resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	c := newTestClient(t, srv, func(o *ClientOptions) { o.Breaker = cb })

	for i := 0; i < 2; i++ {
		resp, err := c.Do(context.Background(), Request{Path: "x"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	}

	_, err := c.Do(context.Background(), Request{Path: "x"})
	var une *UnavailableError
	require.ErrorAs(t, err, &une)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, hits)
}
