// Package server coordinates client registration, presence announcements and
// connection teardown for the duochat WebSocket system via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/duochat/internal/chat"
	"github.com/Tyrowin/duochat/internal/events"
	"github.com/Tyrowin/duochat/internal/presence"
	"github.com/Tyrowin/duochat/internal/push"
	"github.com/Tyrowin/duochat/internal/rooms"
)

// eventTimeout bounds the store work done for a single inbound event.
const eventTimeout = 10 * time.Second

// HubOptions are the collaborators of a Hub. Push may be nil.
type HubOptions struct {
	Store chat.Store
	Push  push.Queue
	// PresencePush submits a presence job on every online/offline transition.
	PresencePush bool
	Logger       *slog.Logger
}

// Hub owns the presence registry and the room fanout. It admits
// authenticated clients, dispatches their events to the chat service and
// tears each connection down exactly once.
type Hub struct {
	clients map[string]*Client
	mutex   sync.RWMutex
	closing bool

	presence *presence.Registry
	rooms    *rooms.Fanout
	chat     *chat.Service
	push     push.Queue
	logger   *slog.Logger

	presencePush bool

	wg     sync.WaitGroup // client pumps
	bg     sync.WaitGroup // presence job handoffs
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub ready to accept clients.
func NewHub(opts HubOptions) (*Hub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:      make(map[string]*Client),
		rooms:        rooms.NewFanout(logger),
		push:         opts.Push,
		presencePush: opts.PresencePush && opts.Push != nil,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
	h.presence = presence.NewRegistry(presence.WithObserver(h.onTransition))

	svc, err := chat.NewService(chat.Deps{
		Store:    opts.Store,
		Rooms:    h.rooms,
		Presence: h.presence,
		Push:     opts.Push,
		Logger:   logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	h.chat = svc
	return h, nil
}

// IsOnline reports whether userID has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(userID)
}

// OnlineCount returns the number of users with a live connection.
func (h *Hub) OnlineCount() int {
	return h.presence.OnlineCount()
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of conversation rooms with members.
func (h *Hub) RoomCount() int {
	return h.rooms.RoomCount()
}

// Register admits an authenticated client and starts its pumps.
func (h *Hub) Register(client *Client) error {
	if client == nil {
		return errors.New("server: nil client")
	}

	h.mutex.Lock()
	if h.closing {
		h.mutex.Unlock()
		return errHubClosed
	}
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.presence.Admit(client.userID, client.id)
	h.logger.Info("client registered",
		"conn", client.id, "user", client.userID, "addr", client.addr, "clients", clientCount)

	if client.conn == nil {
		return nil
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return nil
}

// Unregister tears a connection down. Only the first call for a client has
// any effect; when it returns the connection is out of the presence registry
// and every room.
func (h *Hub) Unregister(client *Client) {
	if client == nil || !client.close() {
		return
	}

	h.mutex.Lock()
	delete(h.clients, client.id)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.presence.Remove(client.id)
	h.rooms.Purge(client.id)

	h.logger.Info("client unregistered",
		"conn", client.id, "user", client.userID, "addr", client.addr, "clients", clientCount)
}

// onTransition runs under the presence shard lock of the user.
func (h *Hub) onTransition(e presence.Event) {
	isOnline := e.Transition == presence.Online
	payload, err := events.Encode(events.UserStatus, events.Status{UserID: e.UserID, IsOnline: isOnline})
	if err != nil {
		h.logger.Error("encode status", "user", e.UserID, "error", err)
		return
	}
	for _, client := range h.getClientSnapshot() {
		_ = client.Send(payload)
	}

	if !h.presencePush {
		return
	}
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), chat.DefaultPushTimeout)
		defer cancel()
		if err := h.push.Submit(ctx, push.PresenceJob(e.UserID, isOnline)); err != nil {
			h.logger.Warn("presence push not queued", "user", e.UserID, "online", isOnline, "error", err)
		}
	}()
}

// dispatch runs one decoded inbound event for client.
func (h *Hub) dispatch(client *Client, in events.Inbound) error {
	ctx, cancel := context.WithTimeout(h.ctx, eventTimeout)
	defer cancel()

	switch ev := in.(type) {
	case events.Join:
		return h.chat.Join(client, ev.ConversationID)
	case events.Leave:
		h.chat.Leave(client.id, ev.ConversationID)
		return nil
	case events.Send:
		_, err := h.chat.Send(ctx, client.userID, ev)
		return err
	case events.MarkRead:
		return h.chat.MarkRead(ctx, client.userID, ev)
	case events.Typing:
		return h.chat.Typing(client.id, client.userID, ev)
	}
	return events.ErrInvalidPayload
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every connection. The read pumps then unregister
// their clients.
func (h *Hub) shutdownClients() {
	clients := h.getClientSnapshot()
	for _, client := range clients {
		if client.conn == nil {
			h.Unregister(client)
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("close client connection", "conn", client.id, "addr", client.addr, "error", err)
		}
	}
	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown stops accepting clients, closes every connection and waits for
// the client goroutines to finish or the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.mutex.Lock()
	h.closing = true
	h.mutex.Unlock()

	h.cancel()
	h.shutdownClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		h.bg.Wait()
		h.chat.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
