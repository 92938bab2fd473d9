package feed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChannelName returns the pub/sub channel carrying a delivery's events.
func ChannelName(deliveryID string) string {
	return fmt.Sprintf("delivery:%s:events", deliveryID)
}

// RedisSource follows a delivery over Redis pub/sub.
type RedisSource struct {
	rdb    *redis.Client
	logger Logger
}

// NewRedisSource builds a source on the given client.
func NewRedisSource(rdb *redis.Client, logger Logger) *RedisSource {
	return &RedisSource{rdb: rdb, logger: orNop(logger)}
}

// Run subscribes to the delivery channel. Malformed messages are logged and
// skipped.
func (s *RedisSource) Run(ctx context.Context, sub Subscription, handle func(Event)) error {
	channel := ChannelName(sub.DeliveryID)
	ps := s.rdb.Subscribe(ctx, channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("feed: subscribe %s: %w", channel, err)
	}
	sub.ready()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return ErrFeedClosed
			}
			ev, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				s.logger.Errorf("feed: delivery %s: %v", sub.DeliveryID, err)
				continue
			}
			handle(ev)
		}
	}
}

// RedisPublisher publishes delivery events over Redis pub/sub.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher builds a publisher on the given client.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish sends ev to the delivery channel.
func (p *RedisPublisher) Publish(ctx context.Context, deliveryID string, ev Event) error {
	body, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, ChannelName(deliveryID), body).Err()
}
