package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maximewewer/gpsd-refclock/internal/config"
	"github.com/maximewewer/gpsd-refclock/internal/refclock"
	"github.com/maximewewer/gpsd-refclock/pkg/logger"
	"github.com/maximewewer/gpsd-refclock/pkg/metrics"
)

// Route is one entry of the route table
type Route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.Handler
}

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	registry   *prometheus.Registry
	metrics    *metrics.DriverMetrics
	status     StatusProvider
	crosscheck CrosscheckProvider
	feed       *refclock.Feed
	server     *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithStatus serves clock snapshots from p
func WithStatus(p StatusProvider) Option {
	return func(s *Server) {
		s.status = p
	}
}

// WithCrosscheck includes the cross-check results in /status
func WithCrosscheck(p CrosscheckProvider) Option {
	return func(s *Server) {
		s.crosscheck = p
	}
}

// WithFeed serves f on /ws
func WithFeed(f *refclock.Feed) Option {
	return func(s *Server) {
		s.feed = f
	}
}

// New creates a new HTTP server
func New(cfg *config.Config, registry *prometheus.Registry, m *metrics.DriverMetrics, opts ...Option) *Server {
	s := &Server{
		config:   cfg,
		registry: registry,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router with every route and middleware
func (s *Server) Handler() http.Handler {
	handlers := NewHandlers(s.config, s.registry, s.status, s.crosscheck)
	middleware := NewMiddleware(s.config, s.metrics)

	routes := []Route{
		{"index", http.MethodGet, "/", http.HandlerFunc(handlers.IndexHandler)},
		{"metrics", http.MethodGet, "/metrics", http.HandlerFunc(handlers.MetricsHandler)},
		{"health", http.MethodGet, "/health", http.HandlerFunc(handlers.HealthHandler)},
		{"status", http.MethodGet, "/status", http.HandlerFunc(handlers.StatusHandler)},
		{"clock", http.MethodGet, "/clocks/{unit:[0-9]+}", http.HandlerFunc(handlers.ClockHandler)},
		{"ws", http.MethodGet, "/ws", NewFeedHandler(s.feed, s.metrics, middleware.checkWebsocketOrigin)},
	}

	router := mux.NewRouter()
	for _, route := range routes {
		router.
			Methods(route.Method).
			Path(route.Pattern).
			Name(route.Name).
			Handler(route.HandlerFunc)
	}

	return middleware.Apply(router)
}

// Start starts the HTTP server and blocks until ctx is done
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Address, strconv.Itoa(s.config.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("HTTP server failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	if s.config.Server.TLSEnabled {
		s.server.TLSConfig = createSecureTLSConfig()
		logger.Infof("server", "Starting HTTPS server on %s with TLS 1.2+", ln.Addr())
	} else {
		logger.Infof("server", "Starting HTTP server on %s", ln.Addr())
	}

	errChan := make(chan error, 1)
	go func() {
		if s.config.Server.TLSEnabled {
			errChan <- s.server.ServeTLS(ln, s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		} else {
			errChan <- s.server.Serve(ln)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("server", "Shutting down HTTP server")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", "Server error", err)
			return fmt.Errorf("HTTP server failed on %s: %w", ln.Addr(), err)
		}
		return nil
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server", "Server shutdown failed", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("server shutdown timeout after 10s: %w", err)
		}
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server", "HTTP server stopped")
	return nil
}

// createSecureTLSConfig restricts the server to TLS 1.2+ with ECDHE suites
func createSecureTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.CurveP521,
			tls.CurveP384,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		},
	}
}
