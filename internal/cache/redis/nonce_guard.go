package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// NonceGuard implements domain.NonceGuard with SET NX. A nonce is remembered
// until the envelope that carried it has expired.
type NonceGuard struct {
	c *Client
}

// NewNonceGuard creates a NonceGuard backed by the given Client.
func NewNonceGuard(c *Client) *NonceGuard {
	return &NonceGuard{c: c}
}

func (g *NonceGuard) Use(ctx context.Context, signer, nonce string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := g.c.rdb.SetNX(ctx, g.c.key("nonce", signer+":"+nonce), 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: use nonce: %w", err)
	}
	if !ok {
		return domain.ErrNonceReplayed
	}
	return nil
}

// Compile-time interface check.
var _ domain.NonceGuard = (*NonceGuard)(nil)
