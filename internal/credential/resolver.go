package credential

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/model"
)

// BranchStore reads the stored credential row of a branch, keyed by column.
// It returns ErrBranchNotFound when the branch has no row.
type BranchStore interface {
	BranchCredentials(ctx context.Context, branch string) (map[string]string, error)
}

// Resolver overlays overrides, stored branch credentials and defaults.
// Stored rows are cached for the life of the process.
type Resolver struct {
	schemas  map[string]Schema
	defaults map[string]map[string]string
	store    BranchStore

	mu    sync.Mutex
	cache map[string]map[string]string
}

// NewResolver creates a resolver. defaults maps provider to field defaults;
// store may be nil when every value comes from overrides or defaults.
func NewResolver(schemas map[string]Schema, defaults map[string]map[string]string, store BranchStore) *Resolver {
	return &Resolver{
		schemas:  schemas,
		defaults: defaults,
		store:    store,
		cache:    make(map[string]map[string]string),
	}
}

// Schema returns the schema registered for provider.
func (r *Resolver) Schema(provider string) (Schema, bool) {
	s, ok := r.schemas[provider]
	return s, ok
}

// Resolve builds the credential tuple of branch for provider. A required
// field that resolves to blank fails with *MissingCredentialError.
func (r *Resolver) Resolve(ctx context.Context, provider, branch string, overrides map[string]string) (Tuple, error) {
	code := model.NormalizeBranchCode(branch)
	if code == "" {
		return Tuple{}, ErrBranchRequired
	}
	schema, ok := r.schemas[provider]
	if !ok {
		return Tuple{}, eris.Wrapf(ErrUnknownProvider, "credential: resolve %q", provider)
	}

	row, err := r.branchRow(ctx, code)
	if err != nil {
		return Tuple{}, err
	}

	return r.build(schema, code, row, overrides)
}

// ResolveShared builds a tuple from overrides and provider defaults only,
// for calls that are not tied to a branch.
func (r *Resolver) ResolveShared(provider string, overrides map[string]string) (Tuple, error) {
	schema, ok := r.schemas[provider]
	if !ok {
		return Tuple{}, eris.Wrapf(ErrUnknownProvider, "credential: resolve %q", provider)
	}
	return r.build(schema, "", nil, overrides)
}

func (r *Resolver) build(schema Schema, code string, row, overrides map[string]string) (Tuple, error) {
	defaults := r.defaults[schema.Provider]
	t := Tuple{
		Provider: schema.Provider,
		Branch:   code,
		Fields:   make(map[string]string, len(schema.Fields)),
		Identity: schema.Identity(),
	}
	for _, f := range schema.Fields {
		v := firstNonBlank(
			lookupOverride(overrides, f),
			row[f.Column],
			defaults[f.Name],
		)
		if v == "" {
			if f.Required {
				return Tuple{}, &MissingCredentialError{Provider: schema.Provider, Field: f.Name, Branch: code}
			}
			continue
		}
		t.Fields[f.Name] = v
	}
	return t, nil
}

func (r *Resolver) branchRow(ctx context.Context, code string) (map[string]string, error) {
	if r.store == nil {
		return nil, nil
	}

	r.mu.Lock()
	row, ok := r.cache[code]
	r.mu.Unlock()
	if ok {
		return row, nil
	}

	row, err := r.store.BranchCredentials(ctx, code)
	if err != nil {
		if errors.Is(err, ErrBranchNotFound) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "credential: load branch %s", code)
	}

	r.mu.Lock()
	r.cache[code] = row
	r.mu.Unlock()
	return row, nil
}

func lookupOverride(overrides map[string]string, f Field) string {
	if len(overrides) == 0 {
		return ""
	}
	if v := strings.TrimSpace(overrides[f.Name]); v != "" {
		return v
	}
	for _, a := range f.Aliases {
		if v := strings.TrimSpace(overrides[a]); v != "" {
			return v
		}
	}
	return ""
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
