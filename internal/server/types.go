// Package server defines utility helpers shared by the client pumps and the hub.
package server

import (
	"errors"
	"strings"

	"github.com/Tyrowin/duochat/internal/events"
)

var (
	errClientClosed   = errors.New("server: client closed")
	errSendBufferFull = errors.New("server: send buffer full")
	errHubClosed      = errors.New("server: hub is shutting down")
)

// Messages reported to the client in an "error" event.
const (
	rateLimitedMessage = "Rate limit exceeded, event discarded"
	internalMessage    = "Internal error"
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

// invalidPayloadMessage turns a decode error into client-facing text.
func invalidPayloadMessage(err error) string {
	detail := strings.TrimPrefix(err.Error(), events.ErrInvalidPayload.Error())
	detail = strings.TrimPrefix(detail, ": ")
	if detail == "" {
		return "Invalid payload"
	}
	return "Invalid payload: " + detail
}
