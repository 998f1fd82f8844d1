package graphcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Publisher broadcasts lock changes beyond the local process.
type Publisher interface {
	PublishLockChange(ctx context.Context, ev LockChange) error
	Close() error
}

// RedisNotifier carries lock changes over Redis pub/sub so waiters in
// every process observe transitions performed by any of them. Messages
// published here loop back through the subscription into the local hub,
// which keeps single-process and multi-process dispatch on one path.
type RedisNotifier struct {
	client *redis.Client
	hub    *Hub
	prefix string
	logger *slog.Logger
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisNotifier subscribes to the lock-change channels and starts the
// receive loop feeding the hub.
func NewRedisNotifier(client *redis.Client, hub *Hub, prefix string, logger *slog.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "flowreach"
	}
	n := &RedisNotifier{
		client: client,
		hub:    hub,
		prefix: prefix,
		logger: logger,
		done:   make(chan struct{}),
	}
	n.pubsub = client.PSubscribe(context.Background(), prefix+":lockchange:*")
	go n.receive()
	return n
}

func (n *RedisNotifier) channel(graphID string) string {
	return fmt.Sprintf("%s:lockchange:%s", n.prefix, graphID)
}

func (n *RedisNotifier) PublishLockChange(ctx context.Context, ev LockChange) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode lock change: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel(ev.GraphID), payload).Err(); err != nil {
		return fmt.Errorf("publish lock change: %w", err)
	}
	return nil
}

func (n *RedisNotifier) receive() {
	defer close(n.done)
	for msg := range n.pubsub.Channel() {
		var ev LockChange
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			n.logger.Warn("dropping malformed lock-change message",
				"channel", msg.Channel,
				"error", err)
			continue
		}
		n.hub.Publish(ev)
	}
}

// Close stops the subscription and waits for the receive loop to drain.
func (n *RedisNotifier) Close() error {
	err := n.pubsub.Close()
	<-n.done
	return err
}

var _ Publisher = (*RedisNotifier)(nil)
