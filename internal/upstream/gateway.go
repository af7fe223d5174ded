// Package upstream defines the contract every provider gateway satisfies and
// the HTTP plumbing they share. Gateways return decoded payloads as
// tree.Node values; only the normalizer reads them.
package upstream

import (
	"context"
	"time"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/tree"
)

// LoginResult is what a provider returns from its login call.
type LoginResult struct {
	Token     string
	Type      string
	ExpiresAt time.Time // zero when the provider did not say
	TTL       time.Duration
	SessionID string
}

// ListParams is a normalized list request.
type ListParams struct {
	Range daterange.Range
	// Kind selects a provider-specific slice of data (e.g. totals, details).
	Kind string
	// Filters are provider-specific query filters.
	Filters map[string]string
}

// Authenticator is implemented by providers that issue tokens.
type Authenticator interface {
	Login(ctx context.Context, cred credential.Tuple) (LoginResult, error)
}

// Lister fetches a window of documents.
type Lister interface {
	FetchList(ctx context.Context, p ListParams, cred credential.Tuple, token string) (tree.Node, error)
}

// DetailFetcher fetches one document by identifier.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, id string, cred credential.Tuple, token string) (tree.Node, error)
}

// Gateway is the minimal surface every provider exposes.
type Gateway interface {
	Name() string
}
