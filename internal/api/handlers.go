package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/provsync"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream/cofarsur"
)

var (
	fromKeys = []string{"fechaDesde", "fecha_desde", "desde", "tcDesde", "from"}
	toKeys   = []string{"fechaHasta", "fecha_hasta", "hasta", "tcHasta", "to"}
)

// cofarsurSections maps the section path segment to a list kind.
var cofarsurSections = map[string]string{
	cofarsur.SectionHeaders: provsync.KindHeaders,
	cofarsur.SectionItems:   provsync.KindItems,
	cofarsur.SectionTaxes:   provsync.KindTaxes,
}

// parseQuery reads dates and kind from the query string. Every parameter
// doubles as a credential override and a provider filter.
func parseQuery(r *http.Request) provsync.Query {
	vals := queryMap(r)
	return provsync.Query{
		From:      firstOf(vals, fromKeys),
		To:        firstOf(vals, toKeys),
		Kind:      vals["kind"],
		Overrides: vals,
		Filters:   vals,
	}
}

func queryMap(r *http.Request) map[string]string {
	out := map[string]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = strings.TrimSpace(v[0])
		}
	}
	return out
}

func firstOf(vals map[string]string, keys []string) string {
	for _, k := range keys {
		if v := vals[k]; v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) branchRequired(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	writeJSON(w, http.StatusBadRequest, errorBody{
		Message: "the branch must be part of the path, e.g. /api/providers/" + provider + "/SA1/comprobantes",
	})
}

func (s *Server) listComprobantes(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, chi.URLParam(r, "provider"), parseQuery(r))
}

func (s *Server) suizoInvoices(w http.ResponseWriter, r *http.Request) {
	q := parseQuery(r)
	q.Kind = chi.URLParam(r, "kind")
	s.list(w, r, "suizo", q)
}

func (s *Server) cofarsurSection(w http.ResponseWriter, r *http.Request) {
	q := parseQuery(r)
	q.Kind = cofarsurSections[chi.URLParam(r, "section")]
	s.list(w, r, cofarsur.Name, q)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, provider string, q provsync.Query) {
	l, err := s.engine.ListBranch(r.Context(), provider, chi.URLParam(r, "branch"), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) detail(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.Detail(r.Context(),
		chi.URLParam(r, "provider"), chi.URLParam(r, "branch"), chi.URLParam(r, "id"), queryMap(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) probeLogin(w http.ResponseWriter, r *http.Request) {
	probe, err := s.engine.ProbeLogin(r.Context(), chi.URLParam(r, "provider"), chi.URLParam(r, "branch"), queryMap(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, probe)
}

type productsBody struct {
	Branch   string           `json:"branch"`
	Email    string           `json:"email"`
	Password string           `json:"password"`
	Pharmacy map[string]any   `json:"pharmacy"`
	Products []map[string]any `json:"products"`
}

func (s *Server) products(w http.ResponseWriter, r *http.Request) {
	var body productsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "invalid request body"})
		return
	}

	overrides := queryMap(r)
	if body.Email != "" {
		overrides["email"] = body.Email
	}
	if body.Password != "" {
		overrides["password"] = body.Password
	}
	branch := body.Branch
	if branch == "" {
		branch = overrides["branch"]
	}
	reference := tree.String(tree.Get(body.Pharmacy, "reference"))

	out, err := s.engine.Products(r.Context(), branch, reference, body.Products, overrides)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// sync runs a fleet sync in the request's lifetime. Without fechaDesde and
// fechaHasta it is incremental.
func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.SyncAll(r.Context(), chi.URLParam(r, "provider"), parseQuery(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) storedRecords(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if _, err := s.engine.Registry().Get(provider); err != nil {
		s.writeError(w, err)
		return
	}
	if s.records == nil {
		s.writeError(w, eris.New("api: no record store configured"))
		return
	}
	recs, err := s.records.ListAll(r.Context(), provider)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		if err := writeWorkbook(w, provider, map[string][]model.Record{provider: recs}); err != nil {
			s.log.Error("write workbook failed", zap.String("provider", provider), zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "count": len(recs), "data": recs})
}
