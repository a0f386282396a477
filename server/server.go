// Package server exposes the provisioning workflow and the coordinator's
// admin operations over HTTP.
//
// Routes:
//
//	POST /api/provisioning/requests                  create a request
//	GET  /api/provisioning/requests                  list (consultant_id, status, limit)
//	GET  /api/provisioning/requests/{id}             request, documents and audit log
//	POST /api/provisioning/requests/{id}/documents   multipart upload (document_type, file)
//	POST /api/provisioning/requests/{id}/advance     run the workflow up to kyc_submitted
//	GET  /api/provisioning/requests/{id}/numbers     search orderable numbers
//	POST /api/provisioning/requests/{id}/order       order a number
//	POST /api/provisioning/requests/{id}/outbound    set the outbound channel limit
//	POST /api/admin/reconcile                        run one poller tick now
//	GET  /api/admin/locks                            list job leases
//	POST /api/admin/provider/invalidate              drop cached provider credentials
//	GET  /health
//	GET  /metrics
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/AlessioChianetta/Coachale-sub034/config"
	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/lease"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
	"github.com/AlessioChianetta/Coachale-sub034/provisioning"
	"github.com/AlessioChianetta/Coachale-sub034/reconcile"
)

// State is the server lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps are the components the handlers call into. Poller and Leases may be
// nil, in which case their admin routes answer 503.
type Deps struct {
	Workflow *provisioning.Workflow
	Poller   *reconcile.Poller
	Leases   *lease.Manager
	Gatherer prometheus.Gatherer // nil = prometheus.DefaultGatherer
}

// Server is the HTTP API.
type Server struct {
	deps   Deps
	cfg    config.ServerConfig
	logger *zap.SugaredLogger
	router chi.Router

	state atomic.Int32

	mu   sync.Mutex
	http *http.Server
}

// New builds a server and its routes. Zero config values take the defaults
// from the config package.
func New(deps Deps, cfg config.ServerConfig, log *zap.SugaredLogger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultServerAddr
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = config.DefaultMaxUploadBytes
	}
	if cfg.ShutdownTimeoutSeconds <= 0 {
		cfg.ShutdownTimeoutSeconds = 10
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.OrNop(log),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/provisioning/requests", func(r chi.Router) {
		r.Post("/", s.handleCreateRequest)
		r.Get("/", s.handleListRequests)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRequest)
			r.Post("/documents", s.handleUploadDocument)
			r.Post("/advance", s.handleAdvance)
			r.Get("/numbers", s.handleSearchNumbers)
			r.Post("/order", s.handleOrderNumber)
			r.Post("/outbound", s.handleAllocateOutbound)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/reconcile", s.handleReconcile)
		r.Get("/locks", s.handleListLocks)
		r.Post("/provider/invalidate", s.handleInvalidateCredentials)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Infow("Server state changed", "state", st.String())
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then drains in-flight requests
// for up to the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSeconds) * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.setState(StateRunning)
	s.logger.Infow("HTTP server listening", logger.FieldAddress, ln.Addr().String())

	select {
	case err := <-errCh:
		s.setState(StateStopped)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.setState(StateDraining)
	err := srv.Shutdown(ctx)
	s.setState(StateStopped)
	return errors.Wrap(err, "shutdown")
}

// requestLogger tags the context with chi's request id and logs each request
// once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log := logger.FromContext(ctx, s.logger)
		fields := []interface{}{
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldHTTPStatus, status,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		}
		if status >= http.StatusInternalServerError {
			log.Warnw("HTTP request failed", fields...)
			return
		}
		log.Debugw("HTTP request", fields...)
	})
}

// credentials returns the workflow's credentials cache, nil when the
// provider client was built without one.
func (s *Server) credentials() *provider.CredentialsCache {
	if s.deps.Workflow == nil {
		return nil
	}
	return s.deps.Workflow.Client().CredentialsCache()
}
