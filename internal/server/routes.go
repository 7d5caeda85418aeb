// Package server wires HTTP handlers into a gin engine for the duochat
// application via routing helpers.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures and returns a gin engine with all application routes.
func (s *Server) SetupRoutes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.requestLogger)

	r.GET("/", s.HealthHandler)
	r.GET("/healthz", s.StatusHandler)
	r.GET("/ws", s.WebSocketHandler)

	notifications := r.Group("/api/notifications", s.requireAuth)
	notifications.GET("/public-key", s.PublicKeyHandler)
	notifications.POST("/subscribe", s.SubscribeHandler)
	notifications.DELETE("/subscribe", s.UnsubscribeHandler)

	return r
}

func (s *Server) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("http request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}
