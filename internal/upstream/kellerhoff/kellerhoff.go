// Package kellerhoff calls the Kellerhoff QuantioCloud API: token login and
// product availability lookups.
package kellerhoff

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

// Name is the provider name.
const Name = "kellerhoff"

var (
	tokenPaths = []string{
		"token", "access_token", "accessToken", "Authorization",
		"data.token", "data.access_token", "data.accessToken", "data.Authorization",
	}
	ttlPaths = []string{"expires_in", "expiresIn", "data.expires_in", "data.expiresIn"}
)

// Gateway implements upstream.Authenticator and the product lookup.
type Gateway struct {
	client *upstream.Client
}

// New creates a gateway.
func New(client *upstream.Client) *Gateway {
	return &Gateway{client: client}
}

// Name returns the provider name.
func (g *Gateway) Name() string { return Name }

// Login exchanges email and password for a bearer token. A response with
// status false is an authorization failure.
func (g *Gateway) Login(ctx context.Context, cred credential.Tuple) (upstream.LoginResult, error) {
	body, err := json.Marshal(map[string]string{
		"email":    cred.Get(credential.Email),
		"password": cred.Get(credential.Password),
	})
	if err != nil {
		return upstream.LoginResult{}, eris.Wrap(err, "kellerhoff: encode login")
	}

	resp, err := g.client.DoJSON(ctx, upstream.Request{Method: http.MethodPost, Path: "quantiocloud/token", Body: body})
	if err != nil {
		return upstream.LoginResult{}, err
	}

	if status, ok := tree.Get(resp, "status").(bool); ok && !status {
		msg := tree.String(tree.Get(resp, "message"))
		if msg == "" {
			msg = "invalid Kellerhoff credentials"
		}
		return upstream.LoginResult{}, &upstream.Error{Provider: Name, Status: http.StatusUnauthorized, Message: msg}
	}

	var res upstream.LoginResult
	if s, ok := resp.(string); ok {
		res.Token = strings.TrimSpace(s)
	} else {
		res.Token = tree.FirstString(resp, tokenPaths)
	}
	if res.Token == "" {
		return upstream.LoginResult{}, &upstream.Error{Provider: Name, Status: http.StatusBadGateway, Message: "login response carried no token"}
	}
	res.TTL = shortestTTL(resp)
	return res, nil
}

func shortestTTL(resp tree.Node) time.Duration {
	var best time.Duration
	for _, p := range ttlPaths {
		d := tree.Decimal(tree.Get(resp, p))
		if !d.Valid || !d.Decimal.IsPositive() {
			continue
		}
		ttl := time.Duration(d.Decimal.IntPart()) * time.Second
		if best == 0 || ttl < best {
			best = ttl
		}
	}
	return best
}

// Product is one line of an availability request.
type Product struct {
	Codebar  string `json:"codebar"`
	Quantity int    `json:"quantity"`
}

// ProductsRequest is the body of a products lookup.
type ProductsRequest struct {
	Pharmacy struct {
		Reference int `json:"reference"`
	} `json:"pharmacy"`
	Products []Product `json:"products"`
}

// BuildProductsRequest validates raw product lines. Each line accepts
// codebar, codigo_barra or barcode and quantity or cantidad (default 1).
// The pharmacy reference falls back to the credential tuple.
func BuildProductsRequest(reference string, lines []map[string]any, cred credential.Tuple) (ProductsRequest, error) {
	var req ProductsRequest

	if strings.TrimSpace(reference) == "" {
		reference = cred.Get(credential.PharmacyReference)
	}
	ref, err := positiveInt(reference, "pharmacy.reference")
	if err != nil {
		return req, err
	}
	if ref == 0 {
		return req, badRequest("pharmacy.reference is required")
	}
	req.Pharmacy.Reference = ref

	if len(lines) == 0 {
		return req, badRequest("products must hold at least one item")
	}
	for i, line := range lines {
		code := tree.FirstString(line, []string{"codebar", "codigo_barra", "barcode"})
		if code == "" {
			return req, badRequest("products[%d].codebar is required", i)
		}
		qty := 1
		if raw, ok := tree.First(line, []string{"quantity", "cantidad"}); ok {
			qty, err = positiveInt(tree.String(raw), fmt.Sprintf("products[%d].quantity", i))
			if err != nil {
				return req, err
			}
		}
		req.Products = append(req.Products, Product{Codebar: code, Quantity: qty})
	}
	return req, nil
}

// Products asks for availability and prices of the requested products.
func (g *Gateway) Products(ctx context.Context, req ProductsRequest, token string) (tree.Node, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "kellerhoff: encode products")
	}
	return g.client.DoJSON(ctx, upstream.Request{Method: http.MethodPost, Path: "quantiocloud/products", Body: body, Bearer: token})
}

// positiveInt parses an optional positive integer; blank yields 0.
func positiveInt(raw, field string) (int, error) {
	raw = strings.Join(strings.Fields(raw), "")
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 1 {
		return 0, badRequest("%s must be an integer greater than 0", field)
	}
	return int(f), nil
}

func badRequest(format string, args ...any) error {
	return &upstream.Error{Provider: Name, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

var _ upstream.Authenticator = (*Gateway)(nil)
