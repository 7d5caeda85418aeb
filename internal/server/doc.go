// Package server implements the HTTP and WebSocket surface of duochat.
//
// The Hub owns the presence registry and the conversation rooms; each Client
// runs a read pump that decodes events and hands them to the chat service,
// and a write pump that drains the client's send buffer. Routes are served by
// gin and every request is authenticated before it can reach the hub.
package server
