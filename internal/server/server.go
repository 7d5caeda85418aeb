package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/duochat/internal/config"
	"github.com/Tyrowin/duochat/internal/push"
)

// Authenticator resolves the user of an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Options are the dependencies of a Server. Push may be nil.
type Options struct {
	Config config.ServerConfig
	Hub    *Hub
	Auth   Authenticator
	Push   *push.Dispatcher
	Logger *slog.Logger
}

// Server holds the HTTP handlers of the chat service.
type Server struct {
	cfg      config.ServerConfig
	hub      *Hub
	auth     Authenticator
	push     *push.Dispatcher
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New validates opts and returns a Server.
func New(opts Options) (*Server, error) {
	if opts.Hub == nil || opts.Auth == nil {
		return nil, errors.New("server: hub and authenticator are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     opts.Config,
		hub:     opts.Hub,
		auth:    opts.Auth,
		push:    opts.Push,
		origins: newOriginPolicy(opts.Config.AllowedOrigins, logger),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s, nil
}
