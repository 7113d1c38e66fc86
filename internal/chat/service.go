// Package chat is the conversation and message synchronization core:
// conversation directory, append-only message log, per-side unread
// counters, and access to the live subscription fan-out. All operations
// take the caller's resolved role view and enforce its filter before
// touching the store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/orderchat/internal/fanout"
	"github.com/orderchat/internal/logger"
	"github.com/orderchat/internal/model"
	"github.com/orderchat/internal/notify"
	"github.com/orderchat/internal/repository"
	"github.com/orderchat/internal/role"
)

// DefaultWindow is the message window for Recent and message
// subscriptions when the caller does not say otherwise.
const DefaultWindow = 50

// ConversationStore is the durable side of the conversation directory.
type ConversationStore interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	FindByPair(ctx context.Context, customerID, merchantID string) (*model.Conversation, error)
	Insert(ctx context.Context, c *model.Conversation) (inserted bool, err error)
	ListByCustomer(ctx context.Context, customerID string) ([]model.Conversation, error)
	ListByMerchant(ctx context.Context, merchantID string) ([]model.Conversation, error)
	ListAll(ctx context.Context) ([]model.Conversation, error)
	ResetUnread(ctx context.Context, id string, forCustomer bool) error
}

// MessageStore is the durable side of the append-only message log.
type MessageStore interface {
	Append(ctx context.Context, m *model.Message, incrementForCustomer bool) error
	Recent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	MarkDelivered(ctx context.Context, conversationID, readerID string) error
}

// PushNotifier delivers push notifications. nil disables them; delivery
// itself is an external service.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Service struct {
	convs    ConversationStore
	msgs     MessageStore
	broker   *fanout.Broker
	notifier notify.Notifier
	push     PushNotifier
	window   int
}

func NewService(convs ConversationStore, msgs MessageStore, broker *fanout.Broker, notifier notify.Notifier, push PushNotifier, window int) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{convs: convs, msgs: msgs, broker: broker, notifier: notifier, push: push, window: window}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("chat.%s: %w: %v", op, ErrStoreUnavailable, err)
}

// GetOrCreate resolves the (customer, merchant) pair to its single
// conversation, creating it on first contact. Concurrent first contact is
// safe: the storage uniqueness constraint makes one insert win and the
// loser re-reads the winner's record. An existing record is returned
// unmodified; a later orderID does not overwrite the original.
func (s *Service) GetOrCreate(ctx context.Context, view role.View, customerID, customerName, merchantID, merchantName string, orderID *string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("chat.GetOrCreate", time.Now())()

	candidate := &model.Conversation{CustomerID: customerID, MerchantID: merchantID}
	if !view.CanView(candidate) {
		return nil, ErrPermissionDenied
	}

	c, err := s.convs.FindByPair(ctx, customerID, merchantID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeErr("GetOrCreate", err)
	}

	now := time.Now().UTC()
	c = &model.Conversation{
		ID:            uuid.New().String(),
		CustomerID:    customerID,
		CustomerName:  customerName,
		MerchantID:    merchantID,
		MerchantName:  merchantName,
		OrderID:       orderID,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	inserted, err := s.convs.Insert(ctx, c)
	if err != nil {
		return nil, storeErr("GetOrCreate", err)
	}
	if !inserted {
		// Lost the creation race: the winner's record is authoritative.
		c, err = s.convs.FindByPair(ctx, customerID, merchantID)
		if err != nil {
			return nil, storeErr("GetOrCreate", err)
		}
		return c, nil
	}

	s.publish(ctx, c)
	return c, nil
}

// ListForParty returns the view's conversations, newest activity first.
// The admin-merchant view returns every conversation in the system.
func (s *Service) ListForParty(ctx context.Context, view role.View) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("chat.ListForParty", time.Now())()
	var (
		convs []model.Conversation
		err   error
	)
	switch view.Role {
	case role.AdminMerchant:
		convs, err = s.convs.ListAll(ctx)
	case role.Merchant:
		convs, err = s.convs.ListByMerchant(ctx, view.PartyID)
	default:
		convs, err = s.convs.ListByCustomer(ctx, view.PartyID)
	}
	if err != nil {
		return nil, storeErr("ListForParty", err)
	}
	return convs, nil
}

// Send appends a user-authored message. The message insert and the
// conversation summary update (last message, counterparty unread counter)
// commit together. The caller's view decides which counter moves: a
// merchant send (admin-merchant included) counts against the customer.
func (s *Service) Send(ctx context.Context, view role.View, conversationID, text string) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.Send", time.Now())()
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidMessage
	}

	conv, err := s.getConversation(ctx, "Send", conversationID)
	if err != nil {
		return nil, err
	}
	if !view.CanView(conv) {
		return nil, ErrPermissionDenied
	}

	now := time.Now().UTC()
	m := &model.Message{
		ID:             newMessageID(now),
		ConversationID: conversationID,
		SenderID:       view.PartyID,
		SenderName:     view.DisplayName,
		Text:           text,
		CreatedAt:      now,
	}
	if err := s.msgs.Append(ctx, m, view.ActsAsMerchant()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, storeErr("Send", err)
	}

	s.publish(ctx, conv)
	s.notifyCounterparty(view, conv, m)
	return m, nil
}

// AppendSystem appends an order-event note attributed to the merchant side
// (e.g. "your order is ready"). System text is not user-authored, so the
// empty-text rejection does not apply; the customer counter still moves.
func (s *Service) AppendSystem(ctx context.Context, conversationID, text string) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.AppendSystem", time.Now())()
	conv, err := s.getConversation(ctx, "AppendSystem", conversationID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &model.Message{
		ID:             newMessageID(now),
		ConversationID: conversationID,
		SenderID:       conv.MerchantID,
		SenderName:     conv.MerchantName,
		Text:           text,
		IsSystem:       true,
		CreatedAt:      now,
	}
	if err := s.msgs.Append(ctx, m, true); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, storeErr("AppendSystem", err)
	}

	s.publish(ctx, conv)
	return m, nil
}

// Recent returns at most limit messages, newest first (limit <= 0 means
// the default window). Callers wanting chronological display reverse it.
func (s *Service) Recent(ctx context.Context, view role.View, conversationID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("chat.Recent", time.Now())()
	if limit <= 0 {
		limit = s.window
	}
	conv, err := s.getConversation(ctx, "Recent", conversationID)
	if err != nil {
		return nil, err
	}
	if !view.CanView(conv) {
		return nil, ErrPermissionDenied
	}
	msgs, err := s.msgs.Recent(ctx, conversationID, limit)
	if err != nil {
		return nil, storeErr("Recent", err)
	}
	return msgs, nil
}

// MarkRead zeroes the caller's own unread counter and leaves the other
// side's untouched.
func (s *Service) MarkRead(ctx context.Context, view role.View, conversationID string) error {
	defer logger.DeferLogDuration("chat.MarkRead", time.Now())()
	conv, err := s.getConversation(ctx, "MarkRead", conversationID)
	if err != nil {
		return err
	}
	if !view.CanView(conv) {
		return ErrPermissionDenied
	}
	if err := s.convs.ResetUnread(ctx, conversationID, !view.ActsAsMerchant()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrConversationNotFound
		}
		return storeErr("MarkRead", err)
	}
	// Advisory per-message flag; counters above are authoritative.
	if err := s.msgs.MarkDelivered(ctx, conversationID, view.PartyID); err != nil {
		logger.Errorf("chat.MarkRead advisory flags conv=%s: %v", conversationID, err)
	}

	s.publish(ctx, conv)
	return nil
}

// SubscribeMessages opens a live stream of the conversation's message
// window for the view, after the same access check as Recent.
func (s *Service) SubscribeMessages(ctx context.Context, view role.View, conversationID string) (*fanout.MessageSubscription, error) {
	conv, err := s.getConversation(ctx, "SubscribeMessages", conversationID)
	if err != nil {
		return nil, err
	}
	if !view.CanView(conv) {
		return nil, ErrPermissionDenied
	}
	return s.broker.SubscribeMessages(conversationID), nil
}

// SubscribeConversations opens a live stream of the view's conversation
// list. The filter is the view itself, so no store-side access check is
// needed.
func (s *Service) SubscribeConversations(view role.View) *fanout.ListSubscription {
	return s.broker.SubscribeConversations(view)
}

func (s *Service) getConversation(ctx context.Context, op, id string) (*model.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return conv, nil
}

// publish feeds the change into the fan-out. The write already committed,
// so a notification failure is logged, never surfaced to the sender.
func (s *Service) publish(ctx context.Context, conv *model.Conversation) {
	ev := notify.Event{
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
		MerchantID:     conv.MerchantID,
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		logger.Errorf("chat: publish change conv=%s: %v", conv.ID, err)
	}
}

func (s *Service) notifyCounterparty(view role.View, conv *model.Conversation, m *model.Message) {
	if s.push == nil {
		return
	}
	recipient := conv.MerchantID
	if view.ActsAsMerchant() {
		recipient = conv.CustomerID
	}
	body := m.Text
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{"conversation_id": conv.ID, "message_id": m.ID}
	go s.push.Notify(context.Background(), recipient, m.SenderName, body, data)
}

// newMessageID returns a ULID carrying the message timestamp, so id order
// matches creation order and breaks timestamp ties deterministically.
func newMessageID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
