package chat

import "errors"

// The core's error taxonomy. Everything is returned as a value; nothing
// here is fatal to the process, and one conversation's failure never
// affects another's.
var (
	// ErrInvalidMessage rejects empty or whitespace-only text before any write.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrConversationNotFound marks operations against an id with no record.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrPermissionDenied marks access outside the caller's resolved view.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStoreUnavailable wraps transient persistence failures. Retryable by
	// the caller; the core performs no automatic retry.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
