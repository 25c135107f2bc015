package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"pos-engine/internal/util"
)

// Redis delivers notifications across independent processes via Redis
// pub/sub. Delivery is fire-and-forget: a subscriber that is down simply
// misses the message, which the consumers tolerate.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	cancel context.CancelFunc
	ctx    context.Context
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Redis{
		rdb:    rdb,
		logger: util.GetLogger(),
		ctx:    ctx,
		cancel: stop,
	}, nil
}

func (n *Redis) Publish(ctx context.Context, topic string, message []byte) error {
	if err := n.rdb.Publish(ctx, topic, message).Err(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. Each subscription runs on its
// own goroutine until Close.
func (n *Redis) Subscribe(topic string, handler Handler) {
	sub := n.rdb.Subscribe(n.ctx, topic)

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-n.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	n.logger.Debug("Subscribed to topic", zap.String("topic", topic))
}

func (n *Redis) Close() error {
	n.cancel()

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs {
		_ = sub.Close()
	}
	return n.rdb.Close()
}
