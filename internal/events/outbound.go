package events

// Status announces a presence transition to every connection.
type Status struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// Read is the targeted read receipt.
type Read struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadBy         string   `json:"readBy"`
}

// AllRead is the bulk read receipt.
type AllRead struct {
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
}

// TypingSignal is relayed to the other connections of a room.
type TypingSignal struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// ErrorPayload is sent to the single connection whose event failed.
type ErrorPayload struct {
	Message string `json:"message"`
}
