package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Listener timeouts. Upgraded connections run on their own read and write
// deadlines once hijacked.
const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second

	defaultShutdownTimeout = 10 * time.Second
)

// Run listens on the configured port and serves until ctx is done or the
// listener fails. See Serve.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the routes on ln until ctx is done or serving fails. It then
// drains in-flight HTTP requests and shuts the hub down, each bounded by the
// shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := s.newHTTPServer()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.logger.Info("server listening", "addr", ln.Addr().String())

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: serve: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}
	return errors.Join(serveErr, s.shutdown(httpServer))
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
}

func (s *Server) shutdown(httpServer *http.Server) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown", "error", err)
		errs = append(errs, fmt.Errorf("server: http shutdown: %w", err))
	} else {
		s.logger.Info("HTTP server shutdown completed")
	}

	// Hijacked WebSocket connections are not tracked by http.Server.
	if err := s.hub.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("server: hub shutdown: %w", err))
	}
	return errors.Join(errs...)
}
