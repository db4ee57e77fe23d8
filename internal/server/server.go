// Package server provides the HTTP API for the embedder.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/embedder/internal/apierror"
	"github.com/hyperjump/embedder/internal/config"
	"github.com/hyperjump/embedder/internal/embedding"
	"github.com/hyperjump/embedder/internal/metrics"
	"github.com/hyperjump/embedder/internal/registry"
	"github.com/hyperjump/embedder/internal/status"
	"github.com/hyperjump/embedder/internal/worker"
	"go.uber.org/zap"
)

// Package metadata reported by GET /.
const (
	Name        = "embedder"
	Authors     = "Hyperjump Technology"
	Description = "HTTP service that turns documents into normalized sentence embeddings."
)

// Version is set at build time with -ldflags "-X .../internal/server.Version=...".
var Version = "dev"

// Server is the HTTP server for the embedder API.
type Server struct {
	registry    *registry.Registry
	pool        *worker.Pool
	metrics     *metrics.Metrics
	status      *status.Status
	descriptors map[string]embedding.Descriptor
	config      *config.Config
	logger      *zap.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a server that embeds with the enabled models of cfg.
// m may be nil, in which case /metrics is not served.
func NewServer(
	reg *registry.Registry,
	pool *worker.Pool,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) (*Server, error) {
	descriptors, err := cfg.Models.Descriptors()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]embedding.Descriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	return &Server{
		registry:    reg,
		pool:        pool,
		metrics:     m,
		status:      status.New(),
		descriptors: byName,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  zap.NewStdLog(s.logger),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/models", s.handleModels)
	r.Post("/embed", s.handleEmbed)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, fmt.Sprint(s.config.Server.Port))
}

// Start binds the configured address and serves until Stop is called.
// A bind failure is an IOError; a clean shutdown returns nil.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return apierror.Wrap(apierror.KindIO, err, "Failed to bind %s", s.Addr())
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	s.logger.Info("Starting server", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return apierror.Wrap(apierror.KindIO, err, "Server failed")
	}
	return nil
}

// Stop stops accepting connections and waits for in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
