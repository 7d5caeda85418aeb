package push

import (
	"encoding/json"
	"time"
)

const notificationIcon = "/favicon.ico"

type action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type notification struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Tag     string   `json:"tag"`
	Data    any      `json:"data"`
	Actions []action `json:"actions,omitempty"`
}

type messageData struct {
	ConversationID string `json:"conversationId"`
	SenderName     string `json:"senderName"`
	Timestamp      int64  `json:"timestamp"`
}

type presenceData struct {
	Type      string `json:"type"`
	UserName  string `json:"userName"`
	IsOnline  bool   `json:"isOnline"`
	Timestamp int64  `json:"timestamp"`
}

// messageBody is the notification body for a message snippet.
func messageBody(snippet string, hasAttachment bool) string {
	if hasAttachment {
		return snippet + " (Attachment)"
	}
	return snippet
}

func messagePayload(senderName, conversationID, snippet string, now time.Time) ([]byte, error) {
	return json.Marshal(notification{
		Title: "New message from " + senderName,
		Body:  snippet,
		Icon:  notificationIcon,
		Badge: notificationIcon,
		Tag:   "message-" + conversationID,
		Data: messageData{
			ConversationID: conversationID,
			SenderName:     senderName,
			Timestamp:      now.UnixMilli(),
		},
		Actions: []action{{Action: "open", Title: "Open Chat"}},
	})
}

func presencePayload(recipientID, name string, isOnline bool, now time.Time) ([]byte, error) {
	state, verb := "offline", "went"
	if isOnline {
		state, verb = "online", "came"
	}
	return json.Marshal(notification{
		Title: name + " is " + state,
		Body:  name + " " + verb + " " + state,
		Icon:  notificationIcon,
		Badge: notificationIcon,
		Tag:   "presence-" + recipientID,
		Data: presenceData{
			Type:      "presence",
			UserName:  name,
			IsOnline:  isOnline,
			Timestamp: now.UnixMilli(),
		},
	})
}
