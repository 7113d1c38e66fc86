package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orderchat/internal/model"
	"github.com/orderchat/internal/notify"
	"github.com/orderchat/internal/role"
)

// fakeReader serves canned snapshots and can be switched to failing.
type fakeReader struct {
	mu    sync.Mutex
	msgs  []model.Message
	convs []model.Conversation
	err   error
}

func (f *fakeReader) setMessages(msgs []model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = msgs
}

func (f *fakeReader) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeReader) Recent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := f.msgs
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]model.Message(nil), out...), nil
}

func (f *fakeReader) ListByCustomer(ctx context.Context, customerID string) ([]model.Conversation, error) {
	return f.listFiltered(func(c model.Conversation) bool { return c.CustomerID == customerID })
}

func (f *fakeReader) ListByMerchant(ctx context.Context, merchantID string) ([]model.Conversation, error) {
	return f.listFiltered(func(c model.Conversation) bool { return c.MerchantID == merchantID })
}

func (f *fakeReader) ListAll(ctx context.Context) ([]model.Conversation, error) {
	return f.listFiltered(func(model.Conversation) bool { return true })
}

func (f *fakeReader) listFiltered(match func(model.Conversation) bool) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Conversation, 0, len(f.convs))
	for _, c := range f.convs {
		if match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func startBroker(t *testing.T, reader *fakeReader) (*Broker, *notify.MemoryNotifier) {
	t.Helper()
	b := NewBroker(reader, reader, 50)
	notifier := notify.NewMemoryNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx, notifier.Events())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		notifier.Close()
	})
	return b, notifier
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestInitialSnapshotDelivered(t *testing.T) {
	reader := &fakeReader{msgs: []model.Message{{ID: "2"}, {ID: "1"}}}
	b, _ := startBroker(t, reader)

	sub := b.SubscribeMessages("k1")
	defer sub.Cancel()
	snap := recv(t, sub.C, "initial snapshot")
	if len(snap) != 2 || snap[0].ID != "2" {
		t.Fatalf("initial snapshot = %+v", snap)
	}
}

func TestEventTriggersRefresh(t *testing.T) {
	reader := &fakeReader{}
	b, notifier := startBroker(t, reader)

	sub := b.SubscribeMessages("k1")
	defer sub.Cancel()
	recv(t, sub.C, "initial snapshot")

	reader.setMessages([]model.Message{{ID: "m1", Text: "hi"}})
	notifier.Publish(context.Background(), notify.Event{ConversationID: "k1", CustomerID: "c1", MerchantID: "s1"})

	snap := recv(t, sub.C, "refresh")
	if len(snap) != 1 || snap[0].ID != "m1" {
		t.Fatalf("refresh snapshot = %+v", snap)
	}
}

func TestEventForOtherConversationNotDelivered(t *testing.T) {
	reader := &fakeReader{}
	b, notifier := startBroker(t, reader)

	sub := b.SubscribeMessages("k1")
	defer sub.Cancel()
	recv(t, sub.C, "initial snapshot")

	notifier.Publish(context.Background(), notify.Event{ConversationID: "k2", CustomerID: "c2", MerchantID: "s2"})
	select {
	case <-sub.C:
		t.Fatal("subscriber for k1 received a k2 refresh")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMailboxCoalescesToNewest(t *testing.T) {
	reader := &fakeReader{}
	b := NewBroker(reader, reader, 50)
	s := newMessageSubscription(b, "k1")

	s.deliver([]model.Message{{ID: "old"}})
	s.deliver([]model.Message{{ID: "mid"}})
	s.deliver([]model.Message{{ID: "new"}})

	snap := recv(t, s.C, "coalesced snapshot")
	if len(snap) != 1 || snap[0].ID != "new" {
		t.Fatalf("mailbox held %+v, want only the newest snapshot", snap)
	}
	select {
	case extra := <-s.C:
		t.Fatalf("stale snapshot %+v observed after the newest", extra)
	default:
	}
}

func TestStoreFailureEndsStreamOnce(t *testing.T) {
	reader := &fakeReader{}
	b, notifier := startBroker(t, reader)

	sub := b.SubscribeMessages("k1")
	recv(t, sub.C, "initial snapshot")

	boom := errors.New("store down")
	reader.setErr(boom)
	notifier.Publish(context.Background(), notify.Event{ConversationID: "k1"})

	if err := recv(t, sub.Err, "stream error"); !errors.Is(err, boom) {
		t.Fatalf("stream error = %v, want %v", err, boom)
	}

	// Stream is over: another event must not reach this subscriber.
	reader.setErr(nil)
	reader.setMessages([]model.Message{{ID: "m1"}})
	notifier.Publish(context.Background(), notify.Event{ConversationID: "k1"})
	select {
	case <-sub.C:
		t.Fatal("failed subscription received a snapshot")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFailureIsIsolatedPerConversation(t *testing.T) {
	healthy := &fakeReader{}
	b, notifier := startBroker(t, healthy)

	subK1 := b.SubscribeMessages("k1")
	defer subK1.Cancel()
	subK2 := b.SubscribeMessages("k2")
	defer subK2.Cancel()
	recv(t, subK1.C, "k1 initial")
	recv(t, subK2.C, "k2 initial")

	// k1's refresh fails, k2's succeeds within the same feed.
	healthy.setErr(errors.New("down"))
	notifier.Publish(context.Background(), notify.Event{ConversationID: "k1"})
	recv(t, subK1.Err, "k1 error")

	healthy.setErr(nil)
	healthy.setMessages([]model.Message{{ID: "m2"}})
	notifier.Publish(context.Background(), notify.Event{ConversationID: "k2"})
	if snap := recv(t, subK2.C, "k2 refresh"); len(snap) != 1 {
		t.Fatalf("k2 snapshot = %+v", snap)
	}
}

func TestListSubscriptionKeys(t *testing.T) {
	reader := &fakeReader{convs: []model.Conversation{
		{ID: "a", CustomerID: "c1", MerchantID: "s1"},
		{ID: "b", CustomerID: "c2", MerchantID: "s1"},
	}}
	b, notifier := startBroker(t, reader)

	custSub := b.SubscribeConversations(role.View{PartyID: "c1", Role: role.Customer})
	defer custSub.Cancel()
	adminSub := b.SubscribeConversations(role.View{PartyID: "hq", Role: role.AdminMerchant})
	defer adminSub.Cancel()

	if snap := recv(t, custSub.C, "customer initial"); len(snap) != 1 || snap[0].ID != "a" {
		t.Fatalf("customer snapshot = %+v", snap)
	}
	if snap := recv(t, adminSub.C, "admin initial"); len(snap) != 2 {
		t.Fatalf("admin snapshot = %+v, want both conversations", snap)
	}

	// Any change event refreshes admin lists, even for parties the event
	// does not name.
	notifier.Publish(context.Background(), notify.Event{ConversationID: "b", CustomerID: "c2", MerchantID: "s1"})
	recv(t, adminSub.C, "admin refresh")
	select {
	case <-custSub.C:
		t.Fatal("c1 list refreshed by a c2-only event")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCancelConcurrentWithDelivery(t *testing.T) {
	reader := &fakeReader{}
	b := NewBroker(reader, reader, 50)
	s := newMessageSubscription(b, "k1")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.deliver([]model.Message{{ID: "x"}})
		}
	}()
	go func() {
		defer wg.Done()
		s.Cancel()
		s.Cancel()
	}()
	wg.Wait()

	// Drain anything delivered before the cancel; nothing may follow.
	select {
	case <-s.C:
	default:
	}
	s.deliver([]model.Message{{ID: "late"}})
	select {
	case snap := <-s.C:
		t.Fatalf("delivery after cancel: %+v", snap)
	default:
	}
}

func TestShutdownFailsRemainingSubscribers(t *testing.T) {
	reader := &fakeReader{}
	b := NewBroker(reader, reader, 50)
	notifier := notify.NewMemoryNotifier()
	defer notifier.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx, notifier.Events())
	}()

	sub := b.SubscribeMessages("k1")
	recv(t, sub.C, "initial snapshot")

	cancel()
	<-done
	if err := recv(t, sub.Err, "shutdown error"); !errors.Is(err, ErrStopped) {
		t.Fatalf("shutdown error = %v, want ErrStopped", err)
	}
}
