// Package notify carries conversation-change events from the write path to
// the subscription fan-out. The Redis implementation lets several API
// instances share one change feed; the in-memory implementation is a
// process-local loopback for -dev and tests.
package notify

import "context"

// Event signals that a conversation changed (message appended, counters
// moved, or the conversation was just created). Party ids are included so
// the fan-out can refresh conversation-list subscribers without a lookup.
type Event struct {
	ConversationID string `json:"conversation_id"`
	CustomerID     string `json:"customer_id"`
	MerchantID     string `json:"merchant_id"`
}

// Notifier publishes change events and exposes the merged local+remote
// event feed. Close releases the feed; Events is closed afterwards.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Events() <-chan Event
	Close() error
}
