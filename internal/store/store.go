// Package store defines the durable store contract consumed by the real-time
// core, plus an in-memory implementation used for development and tests.
// Adapters for real backends live in the postgres, dynamo and cache
// subpackages.
package store

import (
	"context"
	"errors"

	"github.com/Tyrowin/duochat/internal/domain"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("store: not found")

// Conversations is the conversation half of the durable store.
type Conversations interface {
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	// FindConversation looks a conversation up by unordered participant pair.
	FindConversation(ctx context.Context, a, b string) (*domain.Conversation, error)
	// CreateConversation returns the existing conversation when the pair already has one.
	CreateConversation(ctx context.Context, a, b string) (*domain.Conversation, error)
	// AppendMessage inserts msg and replaces the conversation's lastMessage
	// snapshot. Either both writes happen or neither does.
	AppendMessage(ctx context.Context, msg *domain.Message) error
}

// Messages is the message half of the durable store.
type Messages interface {
	// ListMessages returns up to limit messages, oldest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	// MarkRead flips the listed unread messages of the conversation whose
	// recipient is readerID and returns how many changed.
	MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) (int, error)
	// MarkAllRead flips every unread message of the conversation whose
	// recipient is readerID and returns how many changed.
	MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error)
}

// Users exposes the user profile fields the core needs.
type Users interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	// ListContacts returns the ids of users sharing a conversation with userID.
	ListContacts(ctx context.Context, userID string) ([]string, error)
}

// Invalidator is implemented by Users views that cache profiles.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

// Subscriptions stores the push subscriptions owned by each user.
type Subscriptions interface {
	ListSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error)
	// UpsertSubscription replaces any record with the same endpoint, including
	// one owned by another user.
	UpsertSubscription(ctx context.Context, userID string, sub domain.PushSubscription) error
	// RemoveSubscription removes one endpoint, or all of the user's
	// subscriptions when endpoint is empty.
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
	PruneSubscriptions(ctx context.Context, userID string, endpoints []string) error
}

// Store is the full durable store.
type Store interface {
	Conversations
	Messages
	Users
	Subscriptions
}
