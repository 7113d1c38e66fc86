package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/orderchat/internal/chat"
	"github.com/orderchat/internal/logger"
)

const rpcTimeout = 5 * time.Second

// Hub owns the live WebSocket connections and dispatches client requests
// to the chat service.
type Hub struct {
	mu             sync.RWMutex
	clients        map[string]map[*Client]struct{}
	total          int
	maxConns       int
	maxMessageSize int
	svc            *chat.Service
	register       chan *Client
	unregister     chan *Client
	done           chan struct{}
}

func NewHub(svc *chat.Service, maxConns, maxMsgSize int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	if maxMsgSize <= 0 {
		maxMsgSize = maxMessageSize
	}
	return &Hub{
		clients:        make(map[string]map[*Client]struct{}),
		maxConns:       maxConns,
		maxMessageSize: maxMsgSize,
		svc:            svc,
		register:       make(chan *Client, 64),
		unregister:     make(chan *Client, 64),
		done:           make(chan struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting party=%s", h.maxConns, c.view.PartyID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.view.PartyID]; !ok {
		h.clients[c.view.PartyID] = make(map[*Client]struct{})
	}
	h.clients[c.view.PartyID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.view.PartyID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.view.PartyID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSubscribeMessages:
		h.handleSubscribeMessages(ctx, c, msg)
	case EventUnsubscribeMessages:
		h.handleUnsubscribeMessages(c, msg)
	case EventSubscribeConversations:
		h.handleSubscribeConversations(ctx, c)
	case EventSendMessage:
		h.handleSend(ctx, c, msg)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	default:
		c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "unknown event type"}})
	}
}

func (h *Hub) handleSubscribeMessages(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" {
		c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "conversation_id required"}})
		return
	}
	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	sub, err := h.svc.SubscribeMessages(rpcCtx, c.view, msg.ConversationID)
	cancel()
	if err != nil {
		h.sendError(c, msg.ConversationID, err)
		return
	}
	subCtx, subCancel := context.WithCancel(ctx)
	if !c.trackMessageSub(msg.ConversationID, msgSubEntry{sub: sub, cancel: subCancel}) {
		subCancel()
		sub.Cancel()
		c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{
			Message:        "already subscribed",
			ConversationID: msg.ConversationID,
		}})
		return
	}
	c.wg.Add(1)
	go c.forwardMessages(subCtx, msg.ConversationID, sub)
}

func (h *Hub) handleUnsubscribeMessages(c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" {
		c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "conversation_id required"}})
		return
	}
	if e, ok := c.takeMessageSub(msg.ConversationID); ok {
		e.sub.Cancel()
		e.cancel()
	}
}

func (h *Hub) handleSubscribeConversations(ctx context.Context, c *Client) {
	sub := h.svc.SubscribeConversations(c.view)
	if !c.trackListSub(sub) {
		sub.Cancel()
		c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "already subscribed"}})
		return
	}
	c.wg.Add(1)
	go c.forwardConversations(ctx, sub)
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	if msg.ConversationID == "" || strings.TrimSpace(msg.Text) == "" {
		c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{
			Message:        "conversation_id and text required",
			ConversationID: msg.ConversationID,
		}})
		return
	}
	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	if _, err := h.svc.Send(rpcCtx, c.view, msg.ConversationID, msg.Text); err != nil {
		h.sendError(c, msg.ConversationID, err)
	}
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ConversationID == "" {
		c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "conversation_id required"}})
		return
	}
	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	if err := h.svc.MarkRead(rpcCtx, c.view, msg.ConversationID); err != nil {
		h.sendError(c, msg.ConversationID, err)
	}
}

func (h *Hub) sendError(c *Client, conversationID string, err error) {
	var text string
	switch {
	case errors.Is(err, chat.ErrInvalidMessage):
		text = "message text required"
	case errors.Is(err, chat.ErrConversationNotFound):
		text = "conversation not found"
	case errors.Is(err, chat.ErrPermissionDenied):
		text = "permission denied"
	default:
		logger.Errorf("ws request party=%s conversation=%s: %v", c.view.PartyID, conversationID, err)
		text = "temporary failure, retry"
	}
	c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{
		Message:        text,
		ConversationID: conversationID,
	}})
}
