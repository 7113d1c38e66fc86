// Package fanout delivers live, ordered snapshots of message windows and
// conversation lists to any number of concurrent subscribers. It is fed by
// the notify change feed and re-reads the store on every event, so any
// backing store reachable through the reader interfaces satisfies the
// stream contract.
package fanout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/orderchat/internal/logger"
	"github.com/orderchat/internal/model"
	"github.com/orderchat/internal/notify"
	"github.com/orderchat/internal/role"
)

// ErrStopped is delivered to remaining subscribers when the broker shuts
// down before they cancel.
var ErrStopped = errors.New("subscription fan-out stopped")

const queryTimeout = 5 * time.Second

// MessageReader is the slice of the message store the broker refreshes
// message snapshots from.
type MessageReader interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// ConversationLister is the slice of the conversation directory the broker
// refreshes list snapshots from.
type ConversationLister interface {
	ListByCustomer(ctx context.Context, customerID string) ([]model.Conversation, error)
	ListByMerchant(ctx context.Context, merchantID string) ([]model.Conversation, error)
	ListAll(ctx context.Context) ([]model.Conversation, error)
}

// refreshReq routes a new subscription's initial snapshot through the
// event loop, so every delivery to a given subscriber happens on the loop
// goroutine and snapshots stay monotonic.
type refreshReq struct {
	msg  *MessageSubscription
	list *ListSubscription
}

type Broker struct {
	msgs   MessageReader
	convs  ConversationLister
	window int

	mu       sync.RWMutex
	msgSubs  map[string]map[*MessageSubscription]struct{}
	listSubs map[listKey]map[*ListSubscription]struct{}

	refresh chan refreshReq
	done    chan struct{}
}

// NewBroker creates a broker refreshing message snapshots with the given
// window size (the Recent default). Run must be started for deliveries to
// happen.
func NewBroker(msgs MessageReader, convs ConversationLister, window int) *Broker {
	if window <= 0 {
		window = 50
	}
	return &Broker{
		msgs:     msgs,
		convs:    convs,
		window:   window,
		msgSubs:  make(map[string]map[*MessageSubscription]struct{}),
		listSubs: make(map[listKey]map[*ListSubscription]struct{}),
		refresh:  make(chan refreshReq, 64),
		done:     make(chan struct{}),
	}
}

// Run consumes the change feed until ctx is cancelled or the feed closes.
// All snapshot queries and deliveries happen here, serialized, which is
// what gives each subscriber non-decreasing snapshots.
func (b *Broker) Run(ctx context.Context, feed <-chan notify.Event) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return
		case ev, ok := <-feed:
			if !ok {
				b.shutdown()
				return
			}
			b.handleEvent(ev)
		case req := <-b.refresh:
			b.handleRefresh(req)
		}
	}
}

// SubscribeMessages opens a live stream over one conversation's message
// window. The initial snapshot is queued immediately; the caller must
// Cancel when done. Access control is the caller's responsibility.
func (b *Broker) SubscribeMessages(conversationID string) *MessageSubscription {
	s := newMessageSubscription(b, conversationID)
	b.mu.Lock()
	if _, ok := b.msgSubs[conversationID]; !ok {
		b.msgSubs[conversationID] = make(map[*MessageSubscription]struct{})
	}
	b.msgSubs[conversationID][s] = struct{}{}
	b.mu.Unlock()

	b.queueInitial(refreshReq{msg: s}, func(err error) { s.fail(err) })
	return s
}

// SubscribeConversations opens a live stream over a party's conversation
// list, filtered per the view's role (admin-merchant sees every
// conversation).
func (b *Broker) SubscribeConversations(view role.View) *ListSubscription {
	key := listKey{partyID: view.PartyID, role: view.Role}
	s := newListSubscription(b, key)
	b.mu.Lock()
	if _, ok := b.listSubs[key]; !ok {
		b.listSubs[key] = make(map[*ListSubscription]struct{})
	}
	b.listSubs[key][s] = struct{}{}
	b.mu.Unlock()

	b.queueInitial(refreshReq{list: s}, func(err error) { s.fail(err) })
	return s
}

// queueInitial hands the initial-snapshot request to the loop, or fails
// the subscription when the broker has already stopped.
func (b *Broker) queueInitial(req refreshReq, fail func(error)) {
	select {
	case <-b.done:
		fail(ErrStopped)
		return
	default:
	}
	select {
	case b.refresh <- req:
	case <-b.done:
		fail(ErrStopped)
	}
}

func (b *Broker) dropMessageSub(s *MessageSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.msgSubs[s.convID]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.msgSubs, s.convID)
	}
}

func (b *Broker) dropListSub(s *ListSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.listSubs[s.key]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.listSubs, s.key)
	}
}

func (b *Broker) handleEvent(ev notify.Event) {
	b.refreshMessages(ev.ConversationID)
	b.refreshListKeys(b.affectedListKeys(ev))
}

// affectedListKeys returns the list views whose content the event may have
// changed: the customer's list, the merchant's list, and every active
// admin-merchant list.
func (b *Broker) affectedListKeys(ev notify.Event) []listKey {
	keys := make([]listKey, 0, 3)
	if ev.CustomerID != "" {
		keys = append(keys, listKey{partyID: ev.CustomerID, role: role.Customer})
	}
	if ev.MerchantID != "" {
		keys = append(keys, listKey{partyID: ev.MerchantID, role: role.Merchant})
	}
	b.mu.RLock()
	for key := range b.listSubs {
		if key.role == role.AdminMerchant {
			keys = append(keys, key)
		}
	}
	b.mu.RUnlock()
	return keys
}

func (b *Broker) handleRefresh(req refreshReq) {
	if req.msg != nil {
		snap, err := b.queryMessages(req.msg.convID)
		if err != nil {
			logger.Errorf("fanout: initial message snapshot conv=%s: %v", req.msg.convID, err)
			req.msg.fail(err)
			return
		}
		req.msg.deliver(snap)
	}
	if req.list != nil {
		snap, err := b.queryList(req.list.key)
		if err != nil {
			logger.Errorf("fanout: initial list snapshot party=%s: %v", req.list.key.partyID, err)
			req.list.fail(err)
			return
		}
		req.list.deliver(snap)
	}
}

func (b *Broker) refreshMessages(conversationID string) {
	if conversationID == "" {
		return
	}
	b.mu.RLock()
	targets := make([]*MessageSubscription, 0, len(b.msgSubs[conversationID]))
	for s := range b.msgSubs[conversationID] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	snap, err := b.queryMessages(conversationID)
	if err != nil {
		logger.Errorf("fanout: refresh messages conv=%s: %v", conversationID, err)
		for _, s := range targets {
			s.fail(err)
		}
		return
	}
	for _, s := range targets {
		s.deliver(snap)
	}
}

func (b *Broker) refreshListKeys(keys []listKey) {
	for _, key := range keys {
		b.mu.RLock()
		targets := make([]*ListSubscription, 0, len(b.listSubs[key]))
		for s := range b.listSubs[key] {
			targets = append(targets, s)
		}
		b.mu.RUnlock()
		if len(targets) == 0 {
			continue
		}

		snap, err := b.queryList(key)
		if err != nil {
			logger.Errorf("fanout: refresh list party=%s role=%s: %v", key.partyID, key.role, err)
			for _, s := range targets {
				s.fail(err)
			}
			continue
		}
		for _, s := range targets {
			s.deliver(snap)
		}
	}
}

func (b *Broker) queryMessages(conversationID string) ([]model.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return b.msgs.Recent(ctx, conversationID, b.window)
}

func (b *Broker) queryList(key listKey) ([]model.Conversation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	switch key.role {
	case role.AdminMerchant:
		return b.convs.ListAll(ctx)
	case role.Merchant:
		return b.convs.ListByMerchant(ctx, key.partyID)
	default:
		return b.convs.ListByCustomer(ctx, key.partyID)
	}
}

// shutdown ends every remaining subscription with ErrStopped. Collect
// under the lock, fail outside it (fail re-enters the lock via Cancel).
func (b *Broker) shutdown() {
	b.mu.RLock()
	msgTargets := make([]*MessageSubscription, 0)
	for _, subs := range b.msgSubs {
		for s := range subs {
			msgTargets = append(msgTargets, s)
		}
	}
	listTargets := make([]*ListSubscription, 0)
	for _, subs := range b.listSubs {
		for s := range subs {
			listTargets = append(listTargets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range msgTargets {
		s.fail(ErrStopped)
	}
	for _, s := range listTargets {
		s.fail(ErrStopped)
	}
}
