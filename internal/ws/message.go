package ws

import (
	"github.com/orderchat/internal/model"
)

type EventType string

const (
	// Client -> server.
	EventSubscribeMessages      EventType = "subscribe_messages"
	EventUnsubscribeMessages    EventType = "unsubscribe_messages"
	EventSubscribeConversations EventType = "subscribe_conversations"
	EventSendMessage            EventType = "send_message"
	EventMarkRead               EventType = "mark_read"

	// Server -> client.
	EventMessageSnapshot      EventType = "message_snapshot"
	EventConversationSnapshot EventType = "conversation_snapshot"
	EventError                EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Text           string    `json:"text,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessageSnapshotPayload carries the current window of one conversation,
// newest first. Each snapshot replaces the previous one.
type MessageSnapshotPayload struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// ConversationSnapshotPayload carries the caller's conversation list,
// most recent activity first.
type ConversationSnapshotPayload struct {
	Conversations []model.Conversation `json:"conversations"`
}

// ErrorPayload reports a failed request or a dead subscription.
type ErrorPayload struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}
