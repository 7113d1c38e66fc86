package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orderchat/internal/fanout"
	"github.com/orderchat/internal/logger"
	"github.com/orderchat/internal/role"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufSize    = 256
)

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client represents a single WebSocket connection.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan OutgoingMessage
	view role.View

	// Per-connection subscriptions. Forward goroutines remove their own
	// entry on exit; the per-subscription cancel stops the goroutine.
	subMu   sync.Mutex
	msgSubs map[string]msgSubEntry
	listSub *fanout.ListSubscription

	// done is used as a non-blocking guard in enqueue.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// msgSubEntry pairs a conversation subscription with the cancel of its
// forward goroutine.
type msgSubEntry struct {
	sub    *fanout.MessageSubscription
	cancel context.CancelFunc
}

func NewClient(hub *Hub, conn *websocket.Conn, view role.View) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan OutgoingMessage, sendBufSize),
		view:    view,
		msgSubs: make(map[string]msgSubEntry),
		done:    make(chan struct{}),
	}
}

// Start launches the pump goroutines with controlled lifecycle.
// ctx controls pump lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until the pumps and all forward goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// enqueue queues a message for the write pump without ever blocking the
// caller.
func (c *Client) enqueue(msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client party=%s", c.view.PartyID)
		c.Close()
	}
}

// trackMessageSub records a conversation subscription. Returns false if
// one already exists for the conversation (the caller cancels the new one).
func (c *Client) trackMessageSub(conversationID string, e msgSubEntry) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.msgSubs[conversationID]; ok {
		return false
	}
	c.msgSubs[conversationID] = e
	return true
}

func (c *Client) dropMessageSub(conversationID string, sub *fanout.MessageSubscription) {
	c.subMu.Lock()
	if e, ok := c.msgSubs[conversationID]; ok && e.sub == sub {
		delete(c.msgSubs, conversationID)
	}
	c.subMu.Unlock()
}

// takeMessageSub removes and returns the subscription entry for the
// conversation, if any.
func (c *Client) takeMessageSub(conversationID string) (msgSubEntry, bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	e, ok := c.msgSubs[conversationID]
	delete(c.msgSubs, conversationID)
	return e, ok
}

// trackListSub records the conversation-list subscription. Only one per
// connection; returns false if one is already active.
func (c *Client) trackListSub(sub *fanout.ListSubscription) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.listSub != nil {
		return false
	}
	c.listSub = sub
	return true
}

// forwardMessages pumps conversation snapshots into the send queue until
// the connection dies or the subscription fails.
func (c *Client) forwardMessages(ctx context.Context, conversationID string, sub *fanout.MessageSubscription) {
	defer c.wg.Done()
	defer sub.Cancel()
	defer c.dropMessageSub(conversationID, sub)
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-sub.C:
			c.enqueue(OutgoingMessage{
				Type:    EventMessageSnapshot,
				Payload: MessageSnapshotPayload{ConversationID: conversationID, Messages: snap},
			})
		case err := <-sub.Err:
			c.enqueue(OutgoingMessage{
				Type:    EventError,
				Payload: ErrorPayload{Message: "subscription closed: " + err.Error(), ConversationID: conversationID},
			})
			return
		}
	}
}

// forwardConversations pumps conversation-list snapshots.
func (c *Client) forwardConversations(ctx context.Context, sub *fanout.ListSubscription) {
	defer c.wg.Done()
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-sub.C:
			c.enqueue(OutgoingMessage{
				Type:    EventConversationSnapshot,
				Payload: ConversationSnapshotPayload{Conversations: snap},
			})
		case err := <-sub.Err:
			c.enqueue(OutgoingMessage{
				Type:    EventError,
				Payload: ErrorPayload{Message: "subscription closed: " + err.Error()},
			})
			return
		}
	}
}

// readPump reads messages from the WebSocket connection.
// Exits on read error (triggered by conn.Close from Close() or writePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.maxMessageSize))
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline party=%s: %v", c.view.PartyID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error party=%s: %v", c.view.PartyID, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("ws unmarshal error party=%s: %v", c.view.PartyID, err)
			continue
		}

		c.hub.HandleMessage(ctx, c, msg)
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message party=%s: %v", c.view.PartyID, err)
			}
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline party=%s: %v", c.view.PartyID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error party=%s: %v", c.view.PartyID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline party=%s: %v", c.view.PartyID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
