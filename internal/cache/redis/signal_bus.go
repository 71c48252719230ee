package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

const (
	// streamMaxLen caps each stream approximately (XADD MAXLEN ~).
	streamMaxLen int64 = 10000

	subscriberBuffer = 128
	payloadField     = "payload"
)

// SignalBus implements domain.SignalBus. Engine events fan out over Pub/Sub
// to websocket hubs on every replica, and are appended to a stream so a
// reconnecting consumer can catch up. Channel and stream names are
// namespaced by the client prefix.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload to every current subscriber of channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns payloads published on channel until ctx ends, then
// closes the returned channel. A channel containing glob characters is a
// pattern subscription.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.c.prefix + channel
	var ps *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		ps = sb.c.rdb.PSubscribe(ctx, name)
	} else {
		ps = sb.c.rdb.Subscribe(ctx, name)
	}
	// Wait for the confirmation so a publish right after Subscribe returns
	// is not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	msgs := ps.Channel(redis.WithChannelSize(subscriberBuffer))
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends payload to stream.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.prefix + stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID without blocking.
// "0" reads from the start; "$" has no backlog by definition.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" || count <= 0 {
		return nil, nil
	}
	entries, err := sb.c.rdb.XRangeN(ctx, sb.c.prefix+stream, "("+lastID, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	msgs := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		if data, ok := streamPayload(e.Values); ok {
			msgs = append(msgs, domain.StreamMessage{ID: e.ID, Payload: data})
		}
	}
	return msgs, nil
}

func streamPayload(values map[string]any) ([]byte, bool) {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
