// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/duochat/internal/chat"
	"github.com/Tyrowin/duochat/internal/config"
	"github.com/Tyrowin/duochat/internal/events"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client is one authenticated WebSocket connection. It is the room member
// the fanout delivers to.
type Client struct {
	id     string
	userID string
	addr   string

	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu     sync.RWMutex
	closed bool

	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      config.RateLimitConfig
	logger         *slog.Logger
}

// NewClient creates a client for an authenticated user. conn may be nil in
// tests that only exercise delivery.
func NewClient(conn *websocket.Conn, hub *Hub, userID, addr string, cfg config.ServerConfig) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		userID:         userID,
		addr:           addr,
		conn:           conn,
		send:           make(chan []byte, buffer),
		hub:            hub,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		logger:         hub.logger.With("conn", id, "user", userID),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Send queues payload without blocking. A full buffer marks the client as a
// slow consumer and its connection is closed.
func (c *Client) Send(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
	}

	c.logger.Warn("send buffer full, dropping slow consumer", "addr", c.addr)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return errSendBufferFull
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// close marks the client closed and releases the write pump. It reports
// whether this call did the closing.
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *Client) sendError(message string) {
	payload, err := events.Encode(events.Error, events.ErrorPayload{Message: message})
	if err != nil {
		c.logger.Error("encode error event", "error", err)
		return
	}
	_ = c.Send(payload)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("set initial read deadline", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("set read deadline in pong handler", "addr", c.addr, "error", err)
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", "addr", c.addr, "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", "addr", c.addr, "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", "addr", c.addr, "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", "addr", c.addr, "error", err)
	default:
		c.logger.Warn("websocket read error", "addr", c.addr, "error", err)
	}
}

// checkRateLimit reports whether an event may proceed. Events that do not
// reach the store are never limited.
func (c *Client) checkRateLimit(event string) bool {
	if !rateLimited(event) || c.rateLimiter == nil || c.rateLimiter.Allow() {
		return true
	}
	c.logger.Warn("rate limit exceeded, discarding event",
		"addr", c.addr, "event", event, "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
	return false
}

// handleFrame decodes and dispatches one inbound frame. Failures are reported
// to this connection only.
func (c *Client) handleFrame(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while handling event", "panic", fmt.Sprint(r))
			c.sendError(internalMessage)
		}
	}()

	if c.isClosed() {
		return
	}

	in, err := events.Decode(raw)
	if err != nil {
		c.logger.Debug("invalid frame", "error", err)
		c.sendError(invalidPayloadMessage(err))
		return
	}
	if !c.checkRateLimit(in.EventName()) {
		c.sendError(rateLimitedMessage)
		return
	}

	if err := c.hub.dispatch(c, in); err != nil {
		c.logEventError(in.EventName(), err)
		c.sendError(chat.ClientMessage(err))
	}
}

func (c *Client) logEventError(event string, err error) {
	switch chat.CodeOf(err) {
	case chat.CodePersistenceFailure, "":
		c.logger.Error("event failed", "event", event, "error", err)
	default:
		c.logger.Debug("event rejected", "event", event, "error", err)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("close connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.handleFrame(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("close connection in writePump", "error", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set write deadline", "addr", c.addr, "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("write message", "addr", c.addr, "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("write close message", "addr", c.addr, "error", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set write deadline for ping", "addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("write ping", "addr", c.addr, "error", err)
		return false
	}
	return true
}
