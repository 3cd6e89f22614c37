package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swiftdrop/accountgate/internal/port/inbound"
)

// Server is the inbound adapter serving the account API over HTTP.
type Server struct {
	svc            inbound.AccountService
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	metrics        *Metrics
	registry       *prometheus.Registry
	healthChecker  *HealthChecker

	signInMaxFailures int
	signInWindow      time.Duration
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8377".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the browser origins allowed to call the API.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics uses m, registered on reg, instead of a private registry.
// Pass the same Metrics to the services so their recorders show up on
// /metrics.
func WithMetrics(m *Metrics, reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = m
		s.registry = reg
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) { s.healthChecker = hc }
}

// WithSignInLimit throttles an email after maxFailures failed sign-ins
// within window.
func WithSignInLimit(maxFailures int, window time.Duration) Option {
	return func(s *Server) {
		s.signInMaxFailures = maxFailures
		s.signInWindow = window
	}
}

// NewServer creates a Server for svc.
func NewServer(svc inbound.AccountService, opts ...Option) *Server {
	s := &Server{
		svc:            svc,
		addr:           "127.0.0.1:8377",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.metrics = NewMetrics(s.registry)
	}
	return s
}

// Metrics returns the metrics the server records into.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler builds the full handler chain.
// Order (outermost first): Metrics, RequestID, OriginCheck, API routes.
func (s *Server) Handler() http.Handler {
	h := NewAPIHandler(s.svc, s.logger)
	if s.signInMaxFailures > 0 && s.signInWindow > 0 {
		h.SetSignInLimit(s.signInMaxFailures, s.signInWindow)
	}
	var api http.Handler = h.Routes()
	api = OriginCheck(s.allowedOrigins)(api)
	api = RequestIDMiddleware(s.logger)(api)
	api = MetricsMiddleware(s.metrics)(api)

	mux := http.NewServeMux()
	if s.healthChecker != nil {
		mux.Handle("/health", s.healthChecker.Handler())
	} else {
		mux.Handle("/health", NewHealthChecker(nil, s.svc, "").Handler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.Handle("/api/", api)
	return mux
}

// Start accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.registerRuntimeCollectors()

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRuntimeCollectors() {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		var are prometheus.AlreadyRegisteredError
		if err := s.registry.Register(c); err != nil && !errors.As(err, &are) {
			s.logger.Warn("failed to register runtime collector", "error", err)
		}
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
