// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api serves the bridge's admin surface: JSON status and control
// endpoints, a plain-text status page, a websocket flow stream and
// Prometheus metrics.
package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/clock"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/flow"
	"grimm.is/flowbridge/internal/logging"
	"grimm.is/flowbridge/internal/metrics"
)

// MACHeader carries the hex BLAKE2b MAC of a JSON response body, keyed with
// the bridge's global key.
const MACHeader = "X-Flowbridge-MAC"

// Bridge is the control contract the server exposes.
type Bridge interface {
	Status() bridge.Status
	Flows() []flow.Snapshot
	SetActive(active bool) error
	SetTargetAddr(addr string) error
	GlobalKeyMAC(data []byte) []byte
}

// ServerConfig holds HTTP server timeouts and limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
	ShutdownTimeout   time.Duration
}

// DefaultServerConfig returns the stock server limits.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Zero so websocket streams are not cut off.
		WriteTimeout:    0,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 16,
		MaxBodyBytes:    1 << 12,
		ShutdownTimeout: 5 * time.Second,
	}
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Bridge Bridge
	// Traffic is optional; without it /api/v1/traffic returns 503.
	Traffic      *metrics.Collector
	Gatherer     prometheus.Gatherer
	StreamPeriod time.Duration
	Config       *ServerConfig
	Logger       *logging.Logger
}

// Server handles API requests.
type Server struct {
	bridge       Bridge
	traffic      *metrics.Collector
	gatherer     prometheus.Gatherer
	streamPeriod time.Duration
	cfg          *ServerConfig
	logger       *logging.Logger
	upgrader     websocket.Upgrader

	router *mux.Router

	quitOnce sync.Once
	quit     chan struct{}
}

// NewServer creates a new API server with the provided options.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Bridge == nil {
		return nil, errors.New(errors.KindValidation, "api server requires a bridge")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.StreamPeriod <= 0 {
		opts.StreamPeriod = time.Second
	}
	if opts.Config == nil {
		opts.Config = DefaultServerConfig()
	}

	s := &Server{
		bridge:       opts.Bridge,
		traffic:      opts.Traffic,
		gatherer:     opts.Gatherer,
		streamPeriod: opts.StreamPeriod,
		cfg:          opts.Config,
		logger:       opts.Logger.WithComponent("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		router: mux.NewRouter(),
		quit:   make(chan struct{}),
	}
	s.RegisterRoutes(s.router)
	return s, nil
}

// RegisterRoutes registers API routes.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/api/v1/flows", s.handleFlows).Methods("GET")
	router.HandleFunc("/api/v1/flows/stream", s.handleFlowStream).Methods("GET")
	router.HandleFunc("/api/v1/traffic", s.handleTraffic).Methods("GET")

	router.HandleFunc("/api/v1/active", s.handleSetActive).Methods("PUT", "POST")
	router.HandleFunc("/api/v1/target", s.handleSetTarget).Methods("PUT", "POST")

	router.HandleFunc("/status.txt", s.handleStatusText).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.maxBodyMiddleware(s.cfg.MaxBodyBytes)(s.router))
}

// Serve runs the server on listener until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", listener.Addr().String())
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.KindInternal, "shutdown API server")
	}
	s.logger.Info("API server stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "listen on %s", addr)
	}
	return s.Serve(ctx, listener)
}

// Close ends open flow streams.
func (s *Server) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// loggingMiddleware logs all API requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/metrics" {
			return
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start).Round(time.Microsecond),
		}
		switch {
		case wrapped.statusCode >= 500:
			s.logger.Error("request", args...)
		case wrapped.statusCode >= 400:
			s.logger.Warn("request", args...)
		default:
			s.logger.Debug("request", args...)
		}
	})
}

// maxBodyMiddleware limits the size of request bodies.
func (s *Server) maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Implement http.Hijacker for websocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		rw.statusCode = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New(errors.KindUnavailable, "hijack not supported")
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch errors.GetKind(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
