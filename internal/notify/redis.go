package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/orderchat/internal/logger"
)

// changeChannel is the pub/sub channel all API instances share.
const changeChannel = "orderchat:changes"

const redisBufferSize = 256

// RedisNotifier publishes change events to Redis pub/sub and feeds events
// published by any instance (including this one) back through Events.
type RedisNotifier struct {
	cli    *redis.Client
	sub    *redis.PubSub
	events chan Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisNotifier connects, subscribes to the change channel, and starts
// the receive loop. The caller owns Close.
func NewRedisNotifier(ctx context.Context, url string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("notify: redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("notify: redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("notify: redis ping: %w", err)
	}

	sub := cli.Subscribe(context.Background(), changeChannel)
	// Force the subscription to be established before we return, so no
	// event published after construction is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		cli.Close()
		return nil, fmt.Errorf("notify: redis subscribe: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	n := &RedisNotifier{
		cli:    cli,
		sub:    sub,
		events: make(chan Event, redisBufferSize),
		cancel: cancel,
	}
	n.wg.Add(1)
	go n.receive(loopCtx)
	return n, nil
}

func (n *RedisNotifier) receive(ctx context.Context) {
	defer n.wg.Done()
	defer close(n.events)
	msgs := n.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Errorf("notify: bad change event payload: %v", err)
				continue
			}
			select {
			case n.events <- ev:
			default:
				logger.Errorf("notify: local feed full, dropping event conv=%s", ev.ConversationID)
			}
		}
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := n.cli.Publish(ctx, changeChannel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Events() <-chan Event { return n.events }

func (n *RedisNotifier) Close() error {
	n.cancel()
	err := n.sub.Close()
	n.wg.Wait()
	if closeErr := n.cli.Close(); err == nil {
		err = closeErr
	}
	return err
}
