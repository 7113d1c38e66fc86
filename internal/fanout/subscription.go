package fanout

import (
	"sync"

	"github.com/orderchat/internal/model"
	"github.com/orderchat/internal/role"
)

// Snapshot channels hold exactly one pending snapshot. When the broker has
// a newer snapshot and the subscriber has not consumed the old one, the old
// one is replaced: a subscriber can miss intermediate states but never
// observes an older snapshot after a newer one.
const mailboxSize = 1

// listKey identifies one party's conversation-list view. All
// admin-merchant subscribers share a single key because their view is the
// unfiltered system-wide list.
type listKey struct {
	partyID string
	role    role.Role
}

// MessageSubscription is a live stream of newest-first message windows for
// one conversation. Updates arrive on C; a store failure arrives once on
// Err, after which the stream is over. Cancel is idempotent and safe to
// call concurrently with a delivery in flight.
type MessageSubscription struct {
	C   <-chan []model.Message
	Err <-chan error

	b      *Broker
	convID string
	c      chan []model.Message
	errc   chan error

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func newMessageSubscription(b *Broker, convID string) *MessageSubscription {
	s := &MessageSubscription{
		b:      b,
		convID: convID,
		c:      make(chan []model.Message, mailboxSize),
		errc:   make(chan error, 1),
	}
	s.C = s.c
	s.Err = s.errc
	return s
}

// Cancel stops delivery and releases the subscription's slot in the
// broker. Once Cancel returns, no further snapshot is delivered.
func (s *MessageSubscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.b.dropMessageSub(s)
	})
}

// deliver places snap in the mailbox, replacing an unconsumed older
// snapshot. Deliveries are serialized on the broker loop; the mutex only
// orders them against Cancel.
func (s *MessageSubscription) deliver(snap []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.c <- snap:
		return
	default:
	}
	// Mailbox holds a stale snapshot: replace it with the newer one. Only
	// the loop fills the mailbox, so the second send cannot block.
	select {
	case <-s.c:
	default:
	}
	select {
	case s.c <- snap:
	default:
	}
}

// fail reports err once and ends the stream.
func (s *MessageSubscription) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
	s.Cancel()
}

// ListSubscription is a live stream of one party's conversation list,
// filtered and ordered per their role. Same delivery, error, and
// cancellation contract as MessageSubscription.
type ListSubscription struct {
	C   <-chan []model.Conversation
	Err <-chan error

	b    *Broker
	key  listKey
	c    chan []model.Conversation
	errc chan error

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func newListSubscription(b *Broker, key listKey) *ListSubscription {
	s := &ListSubscription{
		b:    b,
		key:  key,
		c:    make(chan []model.Conversation, mailboxSize),
		errc: make(chan error, 1),
	}
	s.C = s.c
	s.Err = s.errc
	return s
}

func (s *ListSubscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.b.dropListSub(s)
	})
}

func (s *ListSubscription) deliver(snap []model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.c <- snap:
		return
	default:
	}
	select {
	case <-s.c:
	default:
	}
	select {
	case s.c <- snap:
	default:
	}
}

func (s *ListSubscription) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
	s.Cancel()
}
