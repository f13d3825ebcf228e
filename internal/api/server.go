package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/service"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// Server is the Kestrel HTTP API.
type Server struct {
	router  *chi.Mux
	handler *Handler
	http    *http.Server
}

// NewServer builds the router and the underlying http.Server. Nothing
// listens until Start is called. repo, cache and bus may be nil.
func NewServer(cfg domain.ServerConfig, detector *service.Detector, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		handler: NewHandler(detector, repo, cache, bus, version),
	}
	s.routes()

	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes() {
	r, h := s.router, s.handler

	r.Use(CORSMiddleware, RecoverMiddleware, TracingMiddleware, LoggingMiddleware, MetricsMiddleware)
	r.Use(middleware.RealIP, middleware.Compress(5))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics/prometheus", telemetry.Handler())

	r.Post("/detect", h.Detect)
	r.Post("/batch-detect", h.BatchDetect)

	r.Post("/report", h.Report)
	r.Get("/reports", h.ListReports)
	r.Get("/metrics", h.Metrics)

	r.Get("/transactions", h.ListTransactions)
	r.Get("/transactions/{id}", h.GetTransaction)

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.ListRules)
		r.Post("/", h.CreateRule)
		r.Post("/reload", h.ReloadRules)
		r.Get("/{id}", h.GetRule)
		r.Put("/{id}", h.UpdateRule)
		r.Delete("/{id}", h.DeleteRule)
	})
}

// Start listens on the configured address and blocks until the server
// stops. After Shutdown it returns http.ErrServerClosed.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the route tree, mostly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) Handler() *Handler {
	return s.handler
}
