// Package monroe talks to the Monroe Americana ADE REST API: token login,
// invoice listing and invoice detail.
package monroe

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

// Name is the provider name.
const Name = "monroe"

// DefaultVersion is the ADE API path prefix.
const DefaultVersion = "ade/1.0.0"

const (
	isoZLayout   = "2006-01-02T00:00:00.000Z"
	hmsLayout    = "2006-01-02 00:00:00"
	expiryLayout = "02/01/2006 15:04:05"
)

// The list endpoint rejects ISO dates on some hosts with this validation code.
var formatRejected = regexp.MustCompile(`(?i)MdPre-?VP-?1`)

// Gateway implements upstream.Authenticator, Lister and DetailFetcher.
type Gateway struct {
	client  *upstream.Client
	version string
	loc     *time.Location
	log     *zap.Logger
}

// New creates a gateway. An empty version uses DefaultVersion; a nil loc
// interprets expiry timestamps in time.Local.
func New(client *upstream.Client, version string, loc *time.Location) *Gateway {
	version = strings.Trim(strings.TrimSpace(version), "/")
	if version == "" {
		version = DefaultVersion
	}
	if loc == nil {
		loc = time.Local
	}
	return &Gateway{
		client:  client,
		version: version,
		loc:     loc,
		log:     zap.L().With(zap.String("component", "monroe")),
	}
}

// Name returns the provider name.
func (g *Gateway) Name() string { return Name }

// Version returns the ADE path prefix in use.
func (g *Gateway) Version() string { return g.version }

// Login obtains a bearer token. The documented call is a POST with query
// parameters; some environments only answer GET, which is tried next.
func (g *Gateway) Login(ctx context.Context, cred credential.Tuple) (upstream.LoginResult, error) {
	q := url.Values{}
	q.Set("software_key", cred.Get(credential.SoftwareKey))
	if v := cred.Get(credential.CustomerKey); v != "" {
		q.Set("ecommerce_customer_key", v)
	}
	if v := cred.Get(credential.CustomerReference); v != "" {
		q.Set("ecommerce_customer_reference", v)
	}
	minutes, hasDuration := tokenDuration(cred)
	if hasDuration {
		q.Set("token_duration", strconv.Itoa(minutes))
	}

	body, err := g.client.DoJSON(ctx, upstream.Request{Method: http.MethodPost, Path: "Auth/login", Query: q})
	if err != nil {
		if ctx.Err() != nil {
			return upstream.LoginResult{}, err
		}
		g.log.Debug("login POST failed, retrying with GET", zap.Error(err))
		body, err = g.client.DoJSON(ctx, upstream.Request{Method: http.MethodGet, Path: "Auth/login", Query: q})
		if err != nil {
			return upstream.LoginResult{}, err
		}
	}

	res := upstream.LoginResult{
		Token:     tree.String(tree.Get(body, "access_token")),
		Type:      tree.String(tree.Get(body, "token_type")),
		SessionID: tree.String(tree.Get(body, "session_id")),
	}
	if res.Token == "" {
		return upstream.LoginResult{}, &upstream.Error{
			Provider: Name,
			Status:   http.StatusBadGateway,
			Message:  "login response carried no access_token",
		}
	}
	if raw := tree.String(tree.Get(body, "expire_in")); raw != "" {
		if t, perr := time.ParseInLocation(expiryLayout, raw, g.loc); perr == nil {
			res.ExpiresAt = t
		}
	}
	if res.ExpiresAt.IsZero() && hasDuration {
		res.TTL = time.Duration(minutes) * time.Minute
	}
	return res, nil
}

func tokenDuration(cred credential.Tuple) (int, bool) {
	raw := cred.Get(credential.TokenDuration)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// FetchList lists invoices in p.Range. Filters nro_comprobante, tipo and
// letra are passed through.
func (g *Gateway) FetchList(ctx context.Context, p upstream.ListParams, _ credential.Tuple, token string) (tree.Node, error) {
	main := g.version + "/consultarComprobantes"
	alt := g.version + "/comprobantes"

	isoQ := listQuery(p, isoZLayout)
	body, err := g.get(ctx, main, isoQ, token)
	if err == nil {
		return body, nil
	}

	var ue *upstream.Error
	if !errors.As(err, &ue) {
		return nil, err
	}

	if !formatRejected.MatchString(ue.Message) {
		if !missingEndpoint(ue) {
			return nil, err
		}
		body, altErr := g.get(ctx, alt, isoQ, token)
		if altErr != nil {
			g.log.Debug("alternate list endpoint failed", zap.Error(altErr))
			return nil, err
		}
		return body, nil
	}

	g.log.Debug("list rejected ISO dates, retrying with plain timestamps", zap.String("mensaje", ue.Message))
	hmsQ := listQuery(p, hmsLayout)
	body, err = g.get(ctx, main, hmsQ, token)
	if err == nil {
		return body, nil
	}
	var he *upstream.Error
	if errors.As(err, &he) && missingEndpoint(he) {
		if body, altErr := g.get(ctx, alt, hmsQ, token); altErr == nil {
			return body, nil
		}
	}
	return nil, err
}

// FetchDetail returns one invoice by its search code.
func (g *Gateway) FetchDetail(ctx context.Context, id string, _ credential.Tuple, token string) (tree.Node, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &upstream.Error{Provider: Name, Status: http.StatusBadRequest, Message: "invoice identifier is required"}
	}
	escaped := url.PathEscape(id)

	body, err := g.get(ctx, g.version+"/consultarComprobante/"+escaped, nil, token)
	if err == nil {
		return body, nil
	}
	var ue *upstream.Error
	if errors.As(err, &ue) && missingEndpoint(ue) {
		if body, altErr := g.get(ctx, g.version+"/comprobantes/"+escaped, nil, token); altErr == nil {
			return body, nil
		}
	}
	return nil, err
}

func (g *Gateway) get(ctx context.Context, path string, q url.Values, token string) (tree.Node, error) {
	return g.client.DoJSON(ctx, upstream.Request{Method: http.MethodGet, Path: path, Query: q, Bearer: token})
}

func missingEndpoint(e *upstream.Error) bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusMethodNotAllowed
}

func listQuery(p upstream.ListParams, layout string) url.Values {
	q := url.Values{}
	if !p.Range.From.IsZero() {
		q.Set("fechaDesde", daterange.Day(p.Range.From).Format(layout))
	}
	if !p.Range.To.IsZero() {
		q.Set("fechaHasta", daterange.Day(p.Range.To).Format(layout))
	}
	set := func(key string, names ...string) {
		for _, n := range names {
			if v := strings.TrimSpace(p.Filters[n]); v != "" {
				q.Set(key, v)
				return
			}
		}
	}
	set("nroComprobante", "nro_comprobante", "nroComprobante")
	set("tipo", "tipo")
	set("letra", "letra")
	return q
}
