package domain

import "time"

// Message is a persisted chat message. IsRead only ever flips from false to true.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	RecipientID    string    `json:"recipientId"`
	Text           string    `json:"text"`
	Attachments    []string  `json:"attachments"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Snapshot returns the lastMessage view of m.
func (m *Message) Snapshot() LastMessage {
	return LastMessage{Text: m.Text, SenderID: m.SenderID, CreatedAt: m.CreatedAt}
}
