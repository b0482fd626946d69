// Package api exposes the Ledger engine over HTTP.
//
// Issue routes use flat verb paths (/add, /like, /push, ...) for existing ARA
// clients; ledger and escrow routes are resource-oriented.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ara-foundation/ledger"
)

// Server is the Ledger HTTP API.
type Server struct {
	ledger  *ledger.Ledger
	logger  *slog.Logger
	metrics http.Handler
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics mounts h at /metrics, typically promhttp.HandlerFor.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTimeout bounds each request. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Server over l.
func New(l *ledger.Ledger, opts ...Option) *Server {
	s := &Server{
		ledger:  l,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// Issue bookkeeping
	r.Post("/add", s.handleAdd)
	r.Post("/update", s.handleUpdate)
	r.Post("/like", s.handleLike)
	r.Post("/push", s.handlePush)
	r.Post("/commit", s.handleCommit)
	r.Get("/pass", s.handlePass)
	r.Post("/prod", s.handleProd)
	r.Get("/list", s.handleList)
	r.Get("/issues/{id}", s.handleGetIssue)

	// Ledger
	r.Post("/transfer", s.handleTransfer)
	r.Get("/balance/{account}", s.handleBalance)
	r.Get("/transactions", s.handleTransactions)

	// Metering escrow
	r.Route("/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleRegisterProject)
		r.Route("/{issue}/{impl}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Post("/charge", s.handleCharge)
			r.Post("/access", s.handleAccess)
			r.Get("/subscribed/{user}", s.handleSubscribed)
			r.Get("/deposits", s.handleDeposits)
			r.Get("/withdrawable", s.handleWithdrawable)
			r.Post("/withdraw", s.handleWithdraw)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logRequests logs one line per request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("body", err.Error())
	}
	return nil
}
