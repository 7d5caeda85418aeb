// Package chat implements the message pipeline, read receipts and typing
// relay on top of the presence registry, the room fanout and the durable store.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Tyrowin/duochat/internal/domain"
	"github.com/Tyrowin/duochat/internal/events"
	"github.com/Tyrowin/duochat/internal/push"
	"github.com/Tyrowin/duochat/internal/rooms"
	"github.com/Tyrowin/duochat/internal/store"
)

// SnippetLimit is the number of characters kept in a push snippet.
const SnippetLimit = 100

// DefaultPushTimeout bounds a single push job handoff to the queue.
const DefaultPushTimeout = 5 * time.Second

// Store is the part of the durable store the pipeline writes to.
type Store interface {
	store.Conversations
	store.Messages
}

// Presence answers whether a user has a live connection.
type Presence interface {
	IsOnline(userID string) bool
}

// Deps are the collaborators of a Service. Push may be nil.
type Deps struct {
	Store    Store
	Rooms    *rooms.Fanout
	Presence Presence
	Push     push.Queue
	// PushTimeout bounds each queue handoff. Zero means DefaultPushTimeout.
	PushTimeout time.Duration
	Logger      *slog.Logger
}

// Service handles the inbound events of authenticated connections.
type Service struct {
	store    Store
	rooms    *rooms.Fanout
	presence Presence
	push     push.Queue
	logger   *slog.Logger

	pushTimeout time.Duration
	handoffs    sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// NewService validates deps and returns a Service.
func NewService(d Deps) (*Service, error) {
	if d.Store == nil || d.Rooms == nil || d.Presence == nil {
		return nil, errors.New("chat: store, rooms and presence are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pushTimeout := d.PushTimeout
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}
	return &Service{
		store:       d.Store,
		rooms:       d.Rooms,
		presence:    d.Presence,
		push:        d.Push,
		logger:      logger,
		pushTimeout: pushTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

// Join adds the connection to a room. Any room name is accepted; sends and
// read receipts check participation.
func (s *Service) Join(m rooms.Member, conversationID string) error {
	if conversationID == "" {
		return newError(CodeInvalidPayload, "Invalid conversation ID", nil)
	}
	s.rooms.Join(m, conversationID)
	return nil
}

// Leave removes the connection from a room. Leaving a room never joined is a no-op.
func (s *Service) Leave(connID, conversationID string) {
	s.rooms.Leave(connID, conversationID)
}

// Send persists a message and broadcasts it to the conversation room. When
// the recipient has no live connection a push job is handed to the queue in
// the background; Send never waits for it and queue failures are only logged.
func (s *Service) Send(ctx context.Context, userID string, in events.Send) (*domain.Message, error) {
	if in.Text == "" || in.ConversationID == "" || in.RecipientID == "" {
		return nil, newError(CodeInvalidPayload, "Invalid message data", nil)
	}

	conv, err := s.participantConversation(ctx, userID, in.ConversationID)
	if err != nil {
		return nil, err
	}
	recipientID, _ := conv.OtherParticipant(userID)
	if in.RecipientID != recipientID {
		return nil, newError(CodeInvalidPayload, "Recipient is not a participant in this conversation", nil)
	}

	msg := &domain.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderID:       userID,
		RecipientID:    recipientID,
		Text:           in.Text,
		Attachments:    append([]string{}, in.Attachments...),
		IsRead:         false,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeNotFound, "Conversation not found", err)
		}
		return nil, newError(CodePersistenceFailure, "Failed to send message", err)
	}

	frame, err := events.Encode(events.MessageNew, msg)
	if err != nil {
		return nil, err
	}
	delivered := s.rooms.Broadcast(conv.ID, frame)

	if !s.presence.IsOnline(recipientID) {
		job := push.MessageJob(recipientID, userID, conv.ID, Snippet(msg.Text))
		job.HasAttachment = len(msg.Attachments) > 0
		s.notifyOffline(ctx, job)
	}

	s.logger.Debug("message sent",
		"conversation_id", conv.ID, "message_id", msg.ID, "sender_id", userID, "delivered", delivered)
	return msg, nil
}

// MarkRead applies a read receipt. With message ids only those messages are
// flipped and message:read is broadcast; without ids every unread message
// addressed to the user is flipped and conversation:allRead is broadcast.
// The receipt is broadcast even when nothing changed.
func (s *Service) MarkRead(ctx context.Context, userID string, in events.MarkRead) error {
	if in.ConversationID == "" {
		return newError(CodeInvalidPayload, "Invalid conversation ID", nil)
	}
	if _, err := s.participantConversation(ctx, userID, in.ConversationID); err != nil {
		return err
	}

	var (
		frame   []byte
		changed int
		err     error
	)
	if in.Targeted() {
		changed, err = s.store.MarkRead(ctx, in.ConversationID, userID, in.MessageIDs)
		if err == nil {
			frame, err = events.Encode(events.MessageRead, events.Read{
				ConversationID: in.ConversationID,
				MessageIDs:     in.MessageIDs,
				ReadBy:         userID,
			})
		}
	} else {
		changed, err = s.store.MarkAllRead(ctx, in.ConversationID, userID)
		if err == nil {
			frame, err = events.Encode(events.ConversationAllRead, events.AllRead{
				ConversationID: in.ConversationID,
				ReadBy:         userID,
			})
		}
	}
	if err != nil {
		return newError(CodePersistenceFailure, "Failed to mark messages as read", err)
	}

	s.rooms.Broadcast(in.ConversationID, frame)
	s.logger.Debug("messages marked read",
		"conversation_id", in.ConversationID, "reader_id", userID, "targeted", in.Targeted(), "changed", changed)
	return nil
}

// Typing relays a typing signal to every other connection in the room.
func (s *Service) Typing(connID, userID string, in events.Typing) error {
	if in.ConversationID == "" {
		return newError(CodeInvalidPayload, "Invalid conversation ID", nil)
	}
	frame, err := events.Encode(in.EventName(), events.TypingSignal{
		UserID:         userID,
		ConversationID: in.ConversationID,
	})
	if err != nil {
		return err
	}
	s.rooms.BroadcastExcept(in.ConversationID, frame, connID)
	return nil
}

func (s *Service) participantConversation(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(CodeNotFound, "Conversation not found", err)
	}
	if err != nil {
		return nil, newError(CodePersistenceFailure, "Failed to load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, newError(CodeForbidden, "Not a participant in this conversation", nil)
	}
	return conv, nil
}

// notifyOffline hands job to the push queue on its own goroutine, bounded by
// the push timeout rather than the event's deadline.
func (s *Service) notifyOffline(ctx context.Context, job push.Job) {
	if s.push == nil {
		return
	}
	s.handoffs.Add(1)
	go func() {
		defer s.handoffs.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pushTimeout)
		defer cancel()
		if err := s.push.Submit(ctx, job); err != nil {
			s.logger.Warn("queue push notification", "kind", job.Kind, "recipient_id", job.RecipientID, "err", err)
		}
	}()
}

// Wait blocks until every push handoff started by Send has returned.
func (s *Service) Wait() {
	s.handoffs.Wait()
}

// Snippet truncates text to SnippetLimit characters, appending "..." when
// anything was cut.
func Snippet(text string) string {
	if utf8.RuneCountInString(text) <= SnippetLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:SnippetLimit]) + "..."
}
