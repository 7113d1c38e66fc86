package notify

import (
	"context"
	"sync"

	"github.com/orderchat/internal/logger"
)

const memoryBufferSize = 256

// MemoryNotifier loops published events straight back to the local feed.
// Used in -dev mode (no Redis) and in tests.
type MemoryNotifier struct {
	mu     sync.Mutex
	events chan Event
	closed bool
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{events: make(chan Event, memoryBufferSize)}
}

func (n *MemoryNotifier) Publish(ctx context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	select {
	case n.events <- ev:
	default:
		// Feed full: the fan-out re-reads state on every event, so dropping
		// one here only delays the refresh until the next event.
		logger.Errorf("notify: local feed full, dropping event conv=%s", ev.ConversationID)
	}
	return nil
}

func (n *MemoryNotifier) Events() <-chan Event { return n.events }

func (n *MemoryNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	return nil
}
