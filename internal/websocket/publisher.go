package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"therapy-chat-sync/internal/observability"
)

const roomChannelPrefix = "ws:room:"

// Publisher fans room frames out to every server instance over Redis.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, roomID string, frame *ServerFrame) error {
	if roomID == "" {
		return fmt.Errorf("websocket publish: roomID required")
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("websocket publish: marshal payload: %w", err)
	}
	if err := p.client.Publish(ctx, roomChannelPrefix+roomID, payload).Err(); err != nil {
		return fmt.Errorf("websocket publish: redis publish: %w", err)
	}
	return nil
}

// Listen delivers every published room frame to fn until ctx ends.
func (p *Publisher) Listen(ctx context.Context, fn func(roomID string, frame *ServerFrame)) error {
	pubsub := p.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}

	logger := observability.LoggerFromContext(ctx)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("websocket listen: redis channel closed")
			}
			var frame ServerFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed room frame")
				continue
			}
			fn(strings.TrimPrefix(msg.Channel, roomChannelPrefix), &frame)
		}
	}
}
