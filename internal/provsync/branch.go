package provsync

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/normalize"
	"github.com/pharmalink/provider-sync/internal/token"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream/kellerhoff"
)

// ListBranch fetches one range for one branch and normalizes it. Nothing
// is persisted. Without a range the provider default applies.
func (e *Engine) ListBranch(ctx context.Context, provider, branch string, q Query) (*model.Listing, error) {
	p, err := e.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	if p.Lister == nil {
		return nil, eris.Wrapf(ErrUnsupported, "provsync: %s cannot list documents", provider)
	}
	kind, err := p.kind(q.Kind)
	if err != nil {
		return nil, err
	}
	q.Kind = kind

	r, err := p.Policy.Resolve(q.From, q.To)
	if err != nil {
		return nil, err
	}
	tuple, err := e.resolver.Resolve(ctx, provider, branch, q.Overrides)
	if err != nil {
		return nil, err
	}

	n, err := e.fetchList(ctx, p, tuple, r, q, true)
	if err != nil {
		return nil, err
	}
	recs, err := normalize.Records(n, p.Template, e.scope(p, tuple))
	if err != nil {
		return nil, err
	}

	l := &model.Listing{
		Provider: provider,
		Branch:   tuple.Branch,
		Data:     model.Dedupe(recs),
		Warning:  normalize.Notice(n),
	}
	if p.Enrich != nil {
		p.Enrich(l, n, kind, p.Template)
	}
	return l, nil
}

// Detail fetches and normalizes one document.
func (e *Engine) Detail(ctx context.Context, provider, branch, id string, overrides map[string]string) (model.Document, error) {
	p, err := e.registry.Get(provider)
	if err != nil {
		return model.Document{}, err
	}
	if p.Detail == nil {
		return model.Document{}, eris.Wrapf(ErrUnsupported, "provsync: %s has no document detail", provider)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Document{}, eris.Wrap(ErrInvalidArgument, "provsync: document id is required")
	}

	tuple, err := e.resolver.Resolve(ctx, provider, branch, overrides)
	if err != nil {
		return model.Document{}, err
	}
	n, err := token.WithRetry(ctx, e.tokens, tuple, true, func(ctx context.Context, tok string) (tree.Node, error) {
		ctx, cancel := e.callContext(ctx, p)
		defer cancel()
		return p.Detail.FetchDetail(ctx, id, tuple, tok)
	})
	if err != nil {
		return model.Document{}, err
	}
	return normalize.Document(provider, n, p.Template)
}

// LoginProbe is the outcome of a forced login. Credentials are masked.
type LoginProbe struct {
	Provider    string            `json:"provider"`
	Branch      string            `json:"branch"`
	HasToken    bool              `json:"has_token"`
	TokenType   string            `json:"token_type,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Credentials map[string]string `json:"credentials"`
}

// ProbeLogin forces a login for branch and reports what came back. The
// token itself is never returned.
func (e *Engine) ProbeLogin(ctx context.Context, provider, branch string, overrides map[string]string) (*LoginProbe, error) {
	p, err := e.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	if p.Auth == nil {
		return nil, eris.Wrapf(ErrUnsupported, "provsync: %s has no login", provider)
	}
	tuple, err := e.resolveFor(ctx, provider, branch, overrides)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.callContext(ctx, p)
	defer cancel()
	tok, err := e.tokens.Get(ctx, tuple, true)
	if err != nil {
		return nil, err
	}

	probe := &LoginProbe{
		Provider:  provider,
		Branch:    tuple.Branch,
		HasToken:  tok.Value != "",
		TokenType: tok.Type,
		SessionID: tok.SessionID,
	}
	if !tok.ExpiresAt.IsZero() {
		at := tok.ExpiresAt
		probe.ExpiresAt = &at
	}
	if schema, ok := e.resolver.Schema(provider); ok {
		probe.Credentials = schema.Mask(tuple)
	}
	return probe, nil
}

// Products runs a Kellerhoff availability lookup. With no branch the
// credentials come from overrides and configured defaults.
func (e *Engine) Products(ctx context.Context, branch, reference string, lines []map[string]any, overrides map[string]string) (tree.Node, error) {
	p, err := e.registry.Get(kellerhoff.Name)
	if err != nil {
		return nil, err
	}
	if p.Products == nil {
		return nil, eris.Wrapf(ErrUnsupported, "provsync: %s has no product lookup", p.Name)
	}
	tuple, err := e.resolveFor(ctx, p.Name, branch, overrides)
	if err != nil {
		return nil, err
	}
	req, err := kellerhoff.BuildProductsRequest(reference, lines, tuple)
	if err != nil {
		return nil, err
	}
	return token.WithRetry(ctx, e.tokens, tuple, false, func(ctx context.Context, tok string) (tree.Node, error) {
		ctx, cancel := e.callContext(ctx, p)
		defer cancel()
		return p.Products.Products(ctx, req, tok)
	})
}

// resolveFor resolves branch credentials, or shared ones when branch is
// blank.
func (e *Engine) resolveFor(ctx context.Context, provider, branch string, overrides map[string]string) (credential.Tuple, error) {
	if strings.TrimSpace(branch) == "" {
		return e.resolver.ResolveShared(provider, overrides)
	}
	return e.resolver.Resolve(ctx, provider, branch, overrides)
}
