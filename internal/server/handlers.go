// Package server exposes HTTP handlers: the authenticated WebSocket upgrade,
// health checks and push subscription management.
package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/duochat/internal/domain"
	"github.com/Tyrowin/duochat/internal/push"
	"github.com/Tyrowin/duochat/internal/store"
)

const userIDKey = "userID"

type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// WebSocketHandler authenticates the handshake, upgrades the connection and
// registers the client with the hub. Unauthenticated requests get 401 and
// never reach presence.
func (s *Server) WebSocketHandler(c *gin.Context) {
	userID, err := s.auth.Authenticate(c.Request)
	if err != nil {
		s.logger.Info("rejected websocket handshake", "addr", c.Request.RemoteAddr, "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "addr", c.Request.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, userID, c.Request.RemoteAddr, s.cfg)
	if err := s.hub.Register(client); err != nil {
		s.logger.Warn("client not registered", "addr", c.Request.RemoteAddr, "error", err)
		deadline := time.Now().Add(writeWait)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "duochat server is running!")
}

// StatusHandler reports connection, presence and push counters.
func (s *Server) StatusHandler(c *gin.Context) {
	body := gin.H{
		"status":      "ok",
		"connections": s.hub.ClientCount(),
		"onlineUsers": s.hub.OnlineCount(),
		"rooms":       s.hub.RoomCount(),
		"push":        gin.H{"enabled": s.push.Enabled()},
	}
	if s.push.Enabled() {
		body["push"] = gin.H{"enabled": true, "stats": s.push.Stats()}
	}
	c.JSON(http.StatusOK, body)
}

// requireAuth rejects requests without a valid session.
func (s *Server) requireAuth(c *gin.Context) {
	userID, err := s.auth.Authenticate(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.Set(userIDKey, userID)
	c.Next()
}

// PublicKeyHandler returns the VAPID public key browsers subscribe with.
func (s *Server) PublicKeyHandler(c *gin.Context) {
	key, err := s.push.PublicKey()
	if err != nil {
		s.writePushError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": key})
}

// SubscribeHandler stores a browser push subscription for the caller.
func (s *Server) SubscribeHandler(c *gin.Context) {
	if !s.push.Enabled() {
		s.writePushError(c, push.ErrPushDisabled)
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub := domain.PushSubscription{Endpoint: req.Endpoint}
	sub.Keys.P256dh = req.Keys.P256dh
	sub.Keys.Auth = req.Keys.Auth

	count, err := s.push.Subscribe(c.Request.Context(), c.GetString(userIDKey), sub)
	if err != nil {
		s.writePushError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":              "Push subscription saved successfully",
		"notificationsEnabled": true,
		"subscriptionCount":    count,
	})
}

// UnsubscribeHandler removes one subscription, or all of them when the body
// names no endpoint.
func (s *Server) UnsubscribeHandler(c *gin.Context) {
	if !s.push.Enabled() {
		s.writePushError(c, push.ErrPushDisabled)
		return
	}

	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.push.Unsubscribe(c.Request.Context(), c.GetString(userIDKey), req.Endpoint); err != nil {
		s.writePushError(c, err)
		return
	}
	message := "All push subscriptions cleared"
	if req.Endpoint != "" {
		message = "Push subscription removed"
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (s *Server) writePushError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, push.ErrPushDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push notifications service is not available"})
	case errors.Is(err, push.ErrNotificationsDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "Notifications are disabled for this user"})
	case errors.Is(err, push.ErrInvalidSubscription):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Subscription needs endpoint, p256dh and auth"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	default:
		s.logger.Error("push subscription request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
