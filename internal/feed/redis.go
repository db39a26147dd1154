// Package feed publishes document change signals over Redis pub/sub so
// every process serving live subscriptions re-reads after a write.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"therapy-chat-sync/internal/config"
	"therapy-chat-sync/internal/observability"
)

const channelPrefix = "docstore:"

// Change is the payload published for every committed write.
type Change struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids,omitempty"`
	At         int64    `json:"at"`
}

func Channel(collection string) string {
	return channelPrefix + collection
}

func NewRedisClient(cfg config.FeedConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
}

type Redis struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, now: time.Now}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Notify(ctx context.Context, collection string, ids ...string) error {
	payload, err := json.Marshal(Change{Collection: collection, IDs: ids, At: r.now().UnixNano()})
	if err != nil {
		return fmt.Errorf("feed notify: marshal change: %w", err)
	}
	if err := r.client.Publish(ctx, Channel(collection), payload).Err(); err != nil {
		return fmt.Errorf("feed notify: redis publish: %w", err)
	}
	changesPublished.WithLabelValues(collection).Inc()
	return nil
}

// Watch subscribes to the collection's channel. Signals are coalesced: a
// burst of changes may arrive as one. The returned channel is closed when
// ctx ends or stop is called.
func (r *Redis) Watch(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	pubsub := r.client.Subscribe(ctx, Channel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("feed watch %s: %w", collection, err)
	}

	out := make(chan struct{}, 1)
	watchCtx, cancel := context.WithCancel(ctx)
	logger := observability.LoggerFromContext(ctx)

	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					logger.Warn().Str("collection", collection).Msg("change feed closed")
					return
				}
				changesReceived.WithLabelValues(collection).Inc()
				logger.Debug().Str("channel", msg.Channel).Msg("change received")
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, cancel, nil
}
