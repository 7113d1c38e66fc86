package notify

import (
	"context"
	"testing"
	"time"
)

func TestMemoryNotifierLoopback(t *testing.T) {
	n := NewMemoryNotifier()
	defer n.Close()

	ev := Event{ConversationID: "c1", CustomerID: "u1", MerchantID: "m1"}
	if err := n.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-n.Events():
		if got != ev {
			t.Errorf("event = %+v, want %+v", got, ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestMemoryNotifierClose(t *testing.T) {
	n := NewMemoryNotifier()
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-n.Events():
		if ok {
			t.Error("unexpected event after close")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
	// Publish after Close is a no-op; writes racing shutdown must not panic.
	if err := n.Publish(context.Background(), Event{ConversationID: "c1"}); err != nil {
		t.Errorf("Publish after Close: %v", err)
	}
}
