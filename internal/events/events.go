// Package events defines the real-time event taxonomy exchanged between
// clients and the hub. Every frame is an envelope {"event": name, "data": payload};
// inbound payloads decode into a closed set of typed variants and anything that
// does not match its variant's shape is rejected with ErrInvalidPayload.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Client to hub event names.
const (
	JoinConversation  = "join:conversation"
	LeaveConversation = "leave:conversation"
	MessageSend       = "message:send"
	MessageMarkRead   = "message:markRead"
	UserTyping        = "user:typing"
	UserStoppedTyping = "user:stoppedTyping"
)

// Hub to client event names. user:typing and user:stoppedTyping are relayed
// under the same names they arrive with.
const (
	UserStatus          = "user:status"
	MessageNew          = "message:new"
	MessageRead         = "message:read"
	ConversationAllRead = "conversation:allRead"
	Error               = "error"
)

// ErrInvalidPayload marks a frame whose envelope or payload shape is wrong.
var ErrInvalidPayload = errors.New("events: invalid payload")

// Envelope is the wire frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every client to hub variant.
type Inbound interface {
	EventName() string
}

// Join asks the hub to add the connection to a conversation room.
type Join struct {
	ConversationID string
}

// Leave asks the hub to remove the connection from a conversation room.
type Leave struct {
	ConversationID string
}

// Send carries a new message.
type Send struct {
	ConversationID string   `json:"conversationId"`
	RecipientID    string   `json:"recipientId"`
	Text           string   `json:"text"`
	Attachments    []string `json:"attachments,omitempty"`
}

// MarkRead is a read receipt. An empty MessageIDs selects bulk mode.
type MarkRead struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

// Targeted reports whether specific message ids were supplied.
func (m MarkRead) Targeted() bool { return len(m.MessageIDs) > 0 }

// Typing is a typing start or stop signal.
type Typing struct {
	ConversationID string `json:"conversationId"`
	Stopped        bool   `json:"-"`
}

func (Join) EventName() string     { return JoinConversation }
func (Leave) EventName() string    { return LeaveConversation }
func (Send) EventName() string     { return MessageSend }
func (MarkRead) EventName() string { return MessageMarkRead }

func (t Typing) EventName() string {
	if t.Stopped {
		return UserStoppedTyping
	}
	return UserTyping
}

// Decode parses one inbound frame into its typed variant.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := strictUnmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame", ErrInvalidPayload)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, fmt.Errorf("%w: %s requires data", ErrInvalidPayload, nameOrUnknown(env.Event))
	}

	switch env.Event {
	case JoinConversation, LeaveConversation:
		var id string
		if err := strictUnmarshal(env.Data, &id); err != nil {
			return nil, fmt.Errorf("%w: %s expects a conversation id string", ErrInvalidPayload, env.Event)
		}
		if env.Event == JoinConversation {
			return Join{ConversationID: id}, nil
		}
		return Leave{ConversationID: id}, nil

	case MessageSend:
		var send Send
		if err := strictUnmarshal(env.Data, &send); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
		}
		return send, nil

	case MessageMarkRead:
		var mark MarkRead
		if err := strictUnmarshal(env.Data, &mark); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
		}
		return mark, nil

	case UserTyping, UserStoppedTyping:
		var typing Typing
		if err := strictUnmarshal(env.Data, &typing); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
		}
		typing.Stopped = env.Event == UserStoppedTyping
		return typing, nil
	}

	return nil, fmt.Errorf("%w: unknown event %s", ErrInvalidPayload, nameOrUnknown(env.Event))
}

// Encode marshals an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after payload")
	}
	return nil
}

func nameOrUnknown(name string) string {
	if name == "" {
		return "<missing>"
	}
	return fmt.Sprintf("%q", name)
}
