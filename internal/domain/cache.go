package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest observation per feed. It is written by the
// feed subscriber and read by the oracle.
type PriceCache interface {
	PriceSource
	SetPrice(ctx context.Context, obs PriceObservation) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NonceGuard remembers signed-request nonces so each is accepted once.
type NonceGuard interface {
	// Use records signer/nonce for ttl. It returns ErrNonceReplayed when the
	// pair was already recorded.
	Use(ctx context.Context, signer, nonce string, ttl time.Duration) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
