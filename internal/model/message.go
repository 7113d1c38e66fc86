package model

import "time"

// Message is one immutable entry in a conversation's log. IDs are ULIDs,
// so lexicographic id order agrees with creation order and serves as the
// tiebreak for equal timestamps. Read is advisory; the authoritative
// unread state lives on the Conversation counters.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Text           string    `json:"text"`
	IsSystem       bool      `json:"is_system"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
