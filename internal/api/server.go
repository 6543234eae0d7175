package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	// DrainTimeout bounds how long running tasks get to release their sessions
	DrainTimeout time.Duration
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:              8080,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // SSE streams clear their own deadline
		ShutdownTimeout:   30 * time.Second,
		DrainTimeout:      2 * time.Minute,
	}
}

// Drainer stops background work during shutdown
type Drainer interface {
	Shutdown(ctx context.Context) error
}

// Server serves the API and drains background tasks on shutdown
type Server struct {
	server  *http.Server
	drainer Drainer
	logger  *slog.Logger
	config  ServerConfig

	// cancelStreams ends open event streams, which would otherwise hold Shutdown open
	cancelStreams context.CancelFunc
}

// NewServer creates a new API server. drainer may be nil.
func NewServer(handler http.Handler, drainer Drainer, config ServerConfig, logger *slog.Logger) *Server {
	base, cancel := context.WithCancel(context.Background())
	logger = logger.With(slog.String("component", "http-server"))

	return &Server{
		server: &http.Server{
			Addr:              net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
			Handler:           handler,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			BaseContext:       func(net.Listener) context.Context { return base },
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		drainer:       drainer,
		logger:        logger,
		config:        config,
		cancelStreams: cancel,
	}
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", slog.String("addr", ln.Addr().String()))

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes event streams, then waits for running
// tasks to record their final state. Both phases are attempted even if the first fails.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.cancelStreams()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown error: %w", err))
	}

	if s.drainer != nil {
		drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.DrainTimeout)
		defer drainCancel()
		if err := s.drainer.Shutdown(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("tasks did not stop in time: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Addr returns the server's listen address
func (s *Server) Addr() string {
	return s.server.Addr
}
