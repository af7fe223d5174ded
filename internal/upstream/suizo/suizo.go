// Package suizo calls the Suizo Argentina pedidos SOAP service. Invoice
// data comes back as a Windows-1252 VFPData XML document embedded in the
// SOAP result string.
package suizo

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream"
)

// Name is the provider name.
const Name = "suizo"

// DefaultNamespace is the service's SOAP namespace.
const DefaultNamespace = "http://tempuri.org/"

const (
	method      = "Facturas"
	noDataMsg   = "Sin datos o estructura inesperada"
	defaultFirm = "1"
)

// Item kinds, selected through upstream.ListParams.Kind.
const (
	KindTotals      = "totals"
	KindDetails     = "details"
	KindPerceptions = "perceptions"
)

var itemCodes = map[string]string{
	KindTotals:      "F",
	KindDetails:     "D",
	KindPerceptions: "P",
}

// Gateway implements upstream.Lister. Suizo has no token: every call
// carries the user and password.
type Gateway struct {
	client    *upstream.Client
	path      string
	namespace string
}

// New creates a gateway posting to path (relative to the client base URL).
func New(client *upstream.Client, path, namespace string) *Gateway {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if !strings.HasSuffix(namespace, "/") {
		namespace += "/"
	}
	return &Gateway{client: client, path: path, namespace: namespace}
}

// Name returns the provider name.
func (g *Gateway) Name() string { return Name }

// Request is the Facturas payload.
type Request struct {
	Company  int    `xml:"tnEmpresa"`
	User     string `xml:"tcUsuario"`
	Password string `xml:"tcClave"`
	Group    string `xml:"tcGrupo"`
	Account  *int   `xml:"tnCuenta,omitempty"`
	From     string `xml:"tcDesde"`
	To       string `xml:"tcHasta"`
	Items    string `xml:"tcItems"`
}

// BuildRequest derives the payload from the credentials and list params.
// Group "C" (account) is used when an account is known unless the caller
// forces "G"; "C" without a numeric account is rejected.
func BuildRequest(p upstream.ListParams, cred credential.Tuple) (Request, error) {
	company := cred.Get(credential.Company)
	if company == "" {
		company = defaultFirm
	}
	firm, err := strconv.Atoi(company)
	if err != nil {
		return Request{}, badRequest("tnEmpresa must be numeric, got %q", company)
	}

	from, to := p.Range.Format(daterange.SlashLayout)
	req := Request{
		Company:  firm,
		User:     cred.Get(credential.Username),
		Password: cred.Get(credential.Password),
		From:     from,
		To:       to,
	}

	account := cred.Get(credential.Account)
	req.Group = resolveGroup(p.Filters["tcGrupo"], cred.Get(credential.Group), account)
	if req.Group == "C" {
		n, err := strconv.Atoi(account)
		if err != nil {
			return Request{}, badRequest("group C requires a numeric tnCuenta for the branch")
		}
		req.Account = &n
	}

	req.Items = itemCodes[p.Kind]
	if req.Items == "" {
		req.Items = itemCodes[KindTotals]
	}
	if v := strings.ToUpper(strings.TrimSpace(p.Filters["tcItems"])); v != "" {
		req.Items = v
	}
	return req, nil
}

func resolveGroup(override, configured, account string) string {
	for _, v := range []string{override, configured} {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "C" || v == "G" {
			return v
		}
	}
	if account != "" {
		return "C"
	}
	return "G"
}

func badRequest(format string, args ...any) error {
	return &upstream.Error{Provider: Name, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

type envelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	XSI     string   `xml:"xmlns:xsi,attr"`
	XSD     string   `xml:"xmlns:xsd,attr"`
	Soap    string   `xml:"xmlns:soap,attr"`
	Body    struct {
		Call facturas `xml:"Facturas"`
	} `xml:"soap:Body"`
}

type facturas struct {
	XMLNS string `xml:"xmlns,attr"`
	Request
}

// FetchList runs Facturas for p.Range. The result is {"row": [...]} with
// every row tagged with the branch, or {"mensaje": "..."} when the service
// answered with a notice instead of data.
func (g *Gateway) FetchList(ctx context.Context, p upstream.ListParams, cred credential.Tuple, _ string) (tree.Node, error) {
	req, err := BuildRequest(p, cred)
	if err != nil {
		return nil, err
	}

	env := envelope{
		XSI:  "http://www.w3.org/2001/XMLSchema-instance",
		XSD:  "http://www.w3.org/2001/XMLSchema",
		Soap: "http://schemas.xmlsoap.org/soap/envelope/",
	}
	env.Body.Call = facturas{XMLNS: g.namespace, Request: req}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, eris.Wrap(err, "suizo: encode soap envelope")
	}

	resp, err := g.client.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   g.path,
		Body:   buf.Bytes(),
		Header: http.Header{
			"Content-Type": {"text/xml; charset=utf-8"},
			"SOAPAction":   {`"` + g.namespace + method + `"`},
		},
	})
	if err != nil {
		return nil, err
	}

	doc, err := upstream.DecodeXML(bytes.NewReader(resp.Body))
	if err != nil {
		if resp.Status >= 400 {
			return nil, g.client.StatusError(resp)
		}
		return nil, &upstream.Error{Provider: Name, Status: http.StatusBadGateway, Message: "unreadable soap response"}
	}
	if fault := tree.FirstString(doc, []string{"Envelope.Body.Fault.faultstring", "Envelope.Body.Fault.Reason.Text"}); fault != "" {
		status := resp.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		return nil, &upstream.Error{Provider: Name, Status: status, Message: fault}
	}
	if resp.Status >= 400 {
		return nil, g.client.StatusError(resp)
	}

	raw := tree.String(tree.Get(doc, "Envelope.Body."+method+"Response."+method+"Result"))
	if raw == "" {
		return nil, &upstream.Error{Provider: Name, Status: http.StatusBadGateway, Message: "unexpected response from Suizo service"}
	}
	return ParseResult(raw, cred.Branch)
}

// ParseResult decodes a FacturasResult payload.
func ParseResult(raw, branch string) (tree.Node, error) {
	vfp, err := upstream.DecodeXMLString(upstream.Windows1252(raw))
	if err != nil {
		return nil, &upstream.Error{Provider: Name, Status: http.StatusBadGateway, Message: "FacturasResult is not valid xml"}
	}

	rows := tree.Get(vfp, "VFPData.row")
	if rows == nil {
		return map[string]any{"mensaje": noDataMsg}, nil
	}
	if m, single := rows.(map[string]any); single {
		if notice := tree.String(m["descripcion"]); notice != "" {
			return map[string]any{"mensaje": notice}, nil
		}
	}

	list := tree.List(rows)
	for _, r := range list {
		row, ok := r.(map[string]any)
		if !ok || branch == "" {
			continue
		}
		if own, ok := row["sucursal"]; ok && tree.String(own) != branch {
			row["sucursalProveedor"] = own
		}
		row["sucursal"] = branch
	}
	return map[string]any{"row": list}, nil
}

// Kinds lists the accepted item kinds.
func Kinds() []string {
	return []string{KindTotals, KindDetails, KindPerceptions}
}

var _ upstream.Lister = (*Gateway)(nil)
