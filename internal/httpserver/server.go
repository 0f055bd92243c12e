// Package httpserver exposes receiver status, volume control and Prometheus
// metrics over HTTP.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/btsink/internal/errors"
	"github.com/tphakala/btsink/internal/logger"
	"github.com/tphakala/btsink/internal/receiver"
)

// Server timeouts
const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
	bodyLimit       = "4K"
)

// Receiver is the part of the receiver controller the server uses.
type Receiver interface {
	Status() receiver.Status
	SetLocalVolume(v uint8) uint8
}

// Server is the status and metrics HTTP server.
type Server struct {
	echo      *echo.Echo
	addr      string
	receiver  Receiver
	metrics   http.Handler
	logger    logger.Logger
	startTime time.Time

	mu       sync.Mutex
	listener net.Listener
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// GetLogger returns the HTTP server module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("http")
}

// New creates a server for addr.
func New(addr string, r Receiver, opts ...ServerOption) *Server {
	s := &Server{
		addr:      addr,
		receiver:  r,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = readTimeout
	s.echo.Server.WriteTimeout = writeTimeout
	s.echo.Server.IdleTimeout = idleTimeout

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestLogger(s.logger))
	s.echo.Use(echomw.BodyLimit(bodyLimit))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.getStatus)
	v1.PUT("/volume", s.putVolume)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("operation", "listen").
			Context("address", s.addr).
			Build()
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("HTTP server started", logger.String("address", ln.Addr().String()))

	s.echo.Server.Handler = s.echo
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.echo.Server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Component("http").
				Category(errors.CategoryNetwork).
				Context("operation", "serve").
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed", logger.Error(err))
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	<-serveErr
	s.logger.Info("HTTP server stopped")
	return nil
}

// Addr returns the bound address once Run is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
