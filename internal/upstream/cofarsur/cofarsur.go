// Package cofarsur calls the Cofarsur comprobantes export endpoint.
package cofarsur

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

// Name is the provider name.
const Name = "cofarsur"

// Sections of an export response.
const (
	SectionHeaders = "cabecera"
	SectionItems   = "detalle"
	SectionTaxes   = "impuestos"
)

// Gateway implements upstream.Lister. The static token travels inside the
// request body with the user and password.
type Gateway struct {
	client *upstream.Client
	path   string
}

// New creates a gateway posting to path (relative to the client base URL).
func New(client *upstream.Client, path string) *Gateway {
	return &Gateway{client: client, path: path}
}

// Name returns the provider name.
func (g *Gateway) Name() string { return Name }

type exportRequest struct {
	Data exportData `json:"DatosExportacionComprobantes"`
}

type exportData struct {
	User     string `json:"usuario"`
	Password string `json:"clave"`
	From     string `json:"fecha_desde"`
	To       string `json:"fecha_hasta"`
	Token    string `json:"token"`
}

// FetchList exports the invoices of p.Range. The result always has the
// shape {"estado", "mensaje", "cabecera": [], "detalle": [], "impuestos": []}.
// A response with estado false and an error text fails as *upstream.Error.
func (g *Gateway) FetchList(ctx context.Context, p upstream.ListParams, cred credential.Tuple, _ string) (tree.Node, error) {
	from, to := p.Range.Format(daterange.SlashLayout)
	body, err := json.Marshal(exportRequest{Data: exportData{
		User:     cred.Get(credential.Username),
		Password: cred.Get(credential.Password),
		From:     from,
		To:       to,
		Token:    cred.Get(credential.StaticToken),
	}})
	if err != nil {
		return nil, eris.Wrap(err, "cofarsur: encode export request")
	}

	raw, err := g.client.DoJSON(ctx, upstream.Request{Method: http.MethodPost, Path: g.path, Body: body})
	if err != nil {
		return nil, err
	}
	return Unwrap(raw)
}

// Unwrap normalizes an export response. Keys are matched ignoring case and
// single objects are wrapped into one-element arrays.
func Unwrap(raw tree.Node) (tree.Node, error) {
	resp := tree.Map(raw)
	if resp == nil {
		return nil, &upstream.Error{Provider: Name, Status: http.StatusBadGateway, Message: "invalid response from Cofarsur service"}
	}
	for _, key := range []string{"RespuestaExportacionComprobantes", "respuesta"} {
		if inner, ok := tree.Lookup(resp, key); ok {
			if m := tree.Map(inner); m != nil {
				resp = m
				break
			}
		}
	}

	get := func(key string) tree.Node {
		v, _ := tree.Lookup(resp, key)
		return v
	}

	ok := truthy(get("estado"))
	msg := tree.String(get("mensaje"))
	failure := tree.String(get("error"))
	if !ok && failure != "" {
		return nil, &upstream.Error{Provider: Name, Status: http.StatusBadGateway, Message: failure}
	}

	out := map[string]any{
		"estado":       ok,
		SectionHeaders: list(get(SectionHeaders)),
		SectionItems:   list(get(SectionItems)),
		SectionTaxes:   list(get(SectionTaxes)),
	}
	if msg != "" {
		out["mensaje"] = msg
	}
	return out, nil
}

func list(v tree.Node) []any {
	l := tree.List(v)
	if l == nil {
		return []any{}
	}
	return l
}

func truthy(v tree.Node) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	default:
		switch tree.String(t) {
		case "true", "True", "TRUE", "1", "S", "s":
			return true
		}
		return false
	}
}

var _ upstream.Lister = (*Gateway)(nil)
