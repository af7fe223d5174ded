package provsync

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/normalize"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream"
	"github.com/pharmalink/provider-sync/internal/upstream/kellerhoff"
)

// ProductLookup checks product availability with a provider.
type ProductLookup interface {
	Products(ctx context.Context, req kellerhoff.ProductsRequest, token string) (tree.Node, error)
}

// Enricher adds the provider's list-level sections to a listing.
type Enricher func(l *model.Listing, n tree.Node, kind string, tpl normalize.Template)

// Provider bundles what the engine needs to talk to one upstream. Any of
// the capabilities may be nil.
type Provider struct {
	Name     string
	Auth     upstream.Authenticator
	Lister   upstream.Lister
	Detail   upstream.DetailFetcher
	Products ProductLookup

	Policy   daterange.Policy
	Template normalize.Template
	// Kinds lists the accepted list kinds; the first is the default.
	Kinds  []string
	Enrich Enricher
	// Timeout bounds each upstream call; 0 leaves it to the client.
	Timeout time.Duration
}

// Capabilities describes a provider for the catalogue.
type Capabilities struct {
	Name         string   `json:"id"`
	List         bool     `json:"list"`
	Detail       bool     `json:"detail"`
	Products     bool     `json:"products"`
	TokenAuth    bool     `json:"token_auth"`
	Kinds        []string `json:"kinds,omitempty"`
	MaxRangeDays int      `json:"max_range_days"`
}

// Capabilities reports what the provider supports.
func (p *Provider) Capabilities() Capabilities {
	return Capabilities{
		Name:         p.Name,
		List:         p.Lister != nil,
		Detail:       p.Detail != nil,
		Products:     p.Products != nil,
		TokenAuth:    p.Auth != nil,
		Kinds:        p.Kinds,
		MaxRangeDays: p.Policy.MaxDays,
	}
}

func (p *Provider) kind(requested string) (string, error) {
	if len(p.Kinds) == 0 {
		return requested, nil
	}
	if requested == "" {
		return p.Kinds[0], nil
	}
	for _, k := range p.Kinds {
		if k == requested {
			return k, nil
		}
	}
	return "", eris.Wrapf(ErrUnsupported, "provsync: %s has no %q listing", p.Name, requested)
}

var (
	// ErrUnknownProvider is returned for a provider that is not registered.
	ErrUnknownProvider = eris.New("provsync: unknown provider")
	// ErrUnsupported is returned when a provider lacks the capability a
	// call needs.
	ErrUnsupported = eris.New("provsync: operation not supported by provider")
	// ErrInvalidArgument is returned for a malformed caller argument.
	ErrInvalidArgument = eris.New("provsync: invalid argument")
)

// Registry maps provider names to providers.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry registers ps by name.
func NewRegistry(ps ...*Provider) *Registry {
	r := &Registry{providers: make(map[string]*Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Name] = p
	}
	return r
}

// Get returns the named provider.
func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownProvider, "provsync: %q", name)
	}
	return p, nil
}

// Names lists registered providers, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Catalogue describes every registered provider.
func (r *Registry) Catalogue() []Capabilities {
	names := r.Names()
	out := make([]Capabilities, 0, len(names))
	for _, n := range names {
		out = append(out, r.providers[n].Capabilities())
	}
	return out
}
