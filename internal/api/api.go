// Package api provides the HTTP server for IntakePipe.
//
// It exposes JSON endpoints to create intake sessions, submit answers, and read back transcripts,
// facts, conclusions and clinician summaries. Every response uses the models.APIResponse envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/BTreeMap/IntakePipe/internal/flow"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultRequestTimeout bounds the handling time of a single request.
const DefaultRequestTimeout = 60 * time.Second

// Opts holds configuration for the API server.
type Opts struct {
	Addr           string           // listen address, e.g. ":8080"
	CORSOrigins    []string         // allowed CORS origins; empty disables CORS headers
	RequestTimeout time.Duration    // per-request timeout
	TwilioWebhook  http.HandlerFunc // mounted at POST /twilio/webhook when set
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins ...string) Option {
	return func(o *Opts) {
		o.CORSOrigins = origins
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.RequestTimeout = d
	}
}

// WithTwilioWebhook mounts h as the inbound Twilio webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.TwilioWebhook = h
	}
}

// Server serves the intake API.
type Server struct {
	svc        *flow.SessionService
	opts       Opts
	router     chi.Router
	httpServer *http.Server
}

// NewServer creates a server backed by the given session service.
func NewServer(svc *flow.SessionService, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, RequestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	s := &Server{svc: svc, opts: o}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.healthHandler)
	r.Get("/intake/content", s.contentHandler)

	r.Route("/intake/sessions", func(r chi.Router) {
		r.Post("/", s.createSessionHandler)
		r.Get("/", s.listSessionsHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSessionHandler)
			r.Delete("/", s.deleteSessionHandler)
			r.Post("/messages", s.submitHandler)
			r.Get("/transcript", s.transcriptHandler)
			r.Get("/facts", s.factsHandler)
			r.Delete("/facts", s.clearSessionHandler)
			r.Get("/conclusions", s.conclusionsHandler)
			r.Get("/summary", s.summaryHandler)
		})
	})

	if s.opts.TwilioWebhook != nil {
		r.Post("/twilio/webhook", s.opts.TwilioWebhook)
	}
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// Start listens on the configured address and blocks until the server stops.
// A graceful Shutdown makes Start return nil.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	slog.Info("Server.Start: API listening", "addr", s.opts.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server.Start: listen failed", "error", err, "addr", s.opts.Addr)
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("Server.Shutdown: stopping API server")
	return s.httpServer.Shutdown(ctx)
}
