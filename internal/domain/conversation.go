// Package domain holds the durable chat entities shared by the store adapters,
// the message pipeline, and the push dispatcher.
package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidParticipants is returned when a conversation is not made of exactly
// two distinct, non-empty user ids.
var ErrInvalidParticipants = errors.New("domain: a conversation must have exactly 2 different participants")

// LastMessage is the denormalized snapshot of the newest message in a conversation.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a two-party conversation. ParticipantIDs is always kept in
// sorted order so a lookup by unordered pair is deterministic.
type Conversation struct {
	ID             string       `json:"id"`
	ParticipantIDs [2]string    `json:"participantIds"`
	LastMessage    *LastMessage `json:"lastMessage,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// CanonicalPair validates a participant pair and returns it in sorted order.
func CanonicalPair(a, b string) ([2]string, error) {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return [2]string{}, ErrInvalidParticipants
	}
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}, nil
}

// NewConversation builds a conversation between two distinct users.
func NewConversation(id, a, b string, now time.Time) (*Conversation, error) {
	pair, err := CanonicalPair(a, b)
	if err != nil {
		return nil, err
	}
	return &Conversation{
		ID:             id,
		ParticipantIDs: pair,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantIDs[0] == userID || c.ParticipantIDs[1] == userID)
}

// OtherParticipant returns the participant that is not userID. The second
// return value is false when userID is not a participant.
func (c *Conversation) OtherParticipant(userID string) (string, bool) {
	switch userID {
	case "":
		return "", false
	case c.ParticipantIDs[0]:
		return c.ParticipantIDs[1], true
	case c.ParticipantIDs[1]:
		return c.ParticipantIDs[0], true
	}
	return "", false
}
