// Package api exposes the sync engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/provsync"
	"github.com/pharmalink/provider-sync/internal/resilience"
	"github.com/pharmalink/provider-sync/internal/scheduler"
	"github.com/pharmalink/provider-sync/internal/store"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/workbook"
)

// Engine is the part of the sync engine the API serves.
type Engine interface {
	Registry() *provsync.Registry
	SyncAll(ctx context.Context, provider string, q provsync.Query) (*model.FleetResult, error)
	ListBranch(ctx context.Context, provider, branch string, q provsync.Query) (*model.Listing, error)
	Detail(ctx context.Context, provider, branch, id string, overrides map[string]string) (model.Document, error)
	ProbeLogin(ctx context.Context, provider, branch string, overrides map[string]string) (*provsync.LoginProbe, error)
	Products(ctx context.Context, branch, reference string, lines []map[string]any, overrides map[string]string) (tree.Node, error)
}

// RunLister reads fleet run history.
type RunLister interface {
	List(ctx context.Context, provider string, limit int) ([]provsync.RunEntry, error)
}

// SchedulerStatus reports scheduled run state.
type SchedulerStatus interface {
	Status() (map[string]scheduler.RunStatus, time.Time)
	IsSyncing() bool
}

// Options configures a Server. Runs, Scheduler and Breakers may be nil.
type Options struct {
	Engine      Engine
	Records     store.RecordStore
	Runs        RunLister
	Scheduler   SchedulerStatus
	Breakers    *resilience.Breakers
	CORSOrigins []string
}

// Server holds the HTTP handlers.
type Server struct {
	engine    Engine
	records   store.RecordStore
	runs      RunLister
	scheduler SchedulerStatus
	breakers  *resilience.Breakers
	origins   []string
	log       *zap.Logger
}

// New creates a server.
func New(opts Options) *Server {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		engine:    opts.Engine,
		records:   opts.Records,
		runs:      opts.Runs,
		scheduler: opts.Scheduler,
		breakers:  opts.Breakers,
		origins:   origins,
		log:       zap.L().With(zap.String("component", "api")),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.requestLogger)

	r.Get("/", s.index)
	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.listRuns)
		r.Get("/scheduler", s.schedulerStatus)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.listProviders)

			r.Post("/kellerhoff/products", s.products)
			r.Get("/suizo/{branch}/invoices/{kind}", s.suizoInvoices)
			r.Get("/cofarsur/{branch}/comprobantes/{section:cabecera|detalle|impuestos}", s.cofarsurSection)

			r.Get("/{provider}/comprobantes", s.branchRequired)
			r.Get("/{provider}/records", s.storedRecords)
			r.Post("/{provider}/sync", s.sync)
			r.Get("/{provider}/{branch}/comprobantes", s.listComprobantes)
			r.Get("/{provider}/{branch}/comprobantes/{id}", s.detail)
			r.Get("/{provider}/{branch}/_login", s.probeLogin)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "resource not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Message: "method not allowed"})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "provider-sync",
		"providers": s.engine.Registry().Names(),
		"endpoints": []string{
			"GET /health",
			"GET /api/providers",
			"GET /api/providers/{provider}/{branch}/comprobantes",
			"GET /api/providers/{provider}/{branch}/comprobantes/{id}",
			"GET /api/providers/{provider}/{branch}/_login",
			"GET /api/providers/suizo/{branch}/invoices/{totals|details|perceptions}",
			"GET /api/providers/cofarsur/{branch}/comprobantes/{cabecera|detalle|impuestos}",
			"POST /api/providers/kellerhoff/products",
			"POST /api/providers/{provider}/sync",
			"GET /api/providers/{provider}/records",
			"GET /api/runs",
		},
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.breakers != nil {
		states := map[string]string{}
		for name, st := range s.breakers.States() {
			states[name] = st.String()
		}
		body["breakers"] = states
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.engine.Registry().Catalogue()})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Message: "run history requires the postgres store"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.runs.List(r.Context(), r.URL.Query().Get("provider"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": entries})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	last, next := s.scheduler.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  true,
		"syncing":  s.scheduler.IsSyncing(),
		"next_run": next,
		"last":     last,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeWorkbook(w http.ResponseWriter, name string, sets map[string][]model.Record) error {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.xlsx"`)
	return workbook.Write(w, sets)
}
