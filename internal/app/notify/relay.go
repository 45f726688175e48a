package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Relay carries serialized events between instances.
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe blocks, passing every received payload to handle, until ctx is done.
	Subscribe(ctx context.Context, handle func([]byte)) error
	Close() error
}

// NewRelay picks the relay named by kind. "none" and "" return a nil relay.
func NewRelay(kind, channel string, rdb *redis.Client, nc *nats.Conn) (Relay, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		return nil, nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("notify: redis relay requires a redis client")
		}
		return NewRedisRelay(rdb, channel), nil
	case "nats":
		if nc == nil {
			return nil, errors.New("notify: nats relay requires a nats connection")
		}
		return NewNATSRelay(nc, natsSubject(channel)), nil
	default:
		return nil, fmt.Errorf("notify: unknown relay %q", kind)
	}
}

// natsSubject maps a redis style channel name to a NATS subject.
func natsSubject(channel string) string {
	if channel == "" {
		return "content.changes"
	}
	return strings.ReplaceAll(channel, ":", ".")
}

type redisRelay struct {
	rdb     *redis.Client
	channel string
}

// NewRedisRelay relays events over Redis pub/sub.
func NewRedisRelay(rdb *redis.Client, channel string) Relay {
	if channel == "" {
		channel = "content:changes"
	}
	return &redisRelay{rdb: rdb, channel: channel}
}

func (r *redisRelay) Publish(ctx context.Context, payload []byte) error {
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

func (r *redisRelay) Subscribe(ctx context.Context, handle func([]byte)) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(msg.Payload))
		case <-ctx.Done():
			return nil
		}
	}
}

// Close is a no-op; the client is owned by the caller.
func (r *redisRelay) Close() error { return nil }

type natsRelay struct {
	nc      *nats.Conn
	subject string
}

// NewNATSRelay relays events over a core NATS subject.
func NewNATSRelay(nc *nats.Conn, subject string) Relay {
	return &natsRelay{nc: nc, subject: subject}
}

func (r *natsRelay) Publish(_ context.Context, payload []byte) error {
	return r.nc.Publish(r.subject, payload)
}

func (r *natsRelay) Subscribe(ctx context.Context, handle func([]byte)) error {
	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		handle(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.subject, err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (r *natsRelay) Close() error { return nil }
