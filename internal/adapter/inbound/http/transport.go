package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GanaRepository/mintoons-sub000/internal/service"
)

// Transport is the inbound HTTP adapter for the quota service. It serves the
// evaluate endpoint, health, and metrics, and optionally mounts the admin
// handler under /admin/.
type Transport struct {
	svc          *service.AdmissionService
	server       *http.Server
	addr         string
	logger       *slog.Logger
	registry     *prometheus.Registry
	adminHandler http.Handler
	checker      *HealthChecker
	version      string
}

// Option is a functional option for configuring the Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithRegistry sets the Prometheus registry served at /metrics. When unset,
// a fresh registry with the standard process and Go collectors is used.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *Transport) {
		t.registry = reg
	}
}

// WithAdminHandler mounts the administrative API under /admin/.
func WithAdminHandler(h http.Handler) Option {
	return func(t *Transport) {
		t.adminHandler = h
	}
}

// WithVersion sets the version string reported by /health.
func WithVersion(version string) Option {
	return func(t *Transport) {
		t.version = version
	}
}

// NewTransport creates the HTTP transport over the admission service.
func NewTransport(svc *service.AdmissionService, opts ...Option) *Transport {
	t := &Transport{
		svc:    svc,
		addr:   "127.0.0.1:8080",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	t.checker = NewHealthChecker(svc, t.version)
	return t
}

// Handler builds the full route tree.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/evaluate", NewEvaluateHandler(t.svc))
	mux.Handle("/health", t.checker)
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
	if t.adminHandler != nil {
		mux.Handle("/admin/", t.adminHandler)
	}
	return RequestIDMiddleware(t.logger)(mux)
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called. A closed-server error is reported as a clean exit.
func (t *Transport) Start() error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	t.logger.Info("quota service listening", "addr", t.addr)
	if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests up to
// the context deadline.
func (t *Transport) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}
