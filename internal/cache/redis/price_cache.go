package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each feed is a
// hash at "{prefix}price:{feedID}" with fields price, conf, expo and ts (Unix
// seconds, the oracle publish time).
type PriceCache struct {
	c *Client
	// ttl expires feeds the subscriber stopped writing. Zero keeps them.
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrice stores obs unless a newer observation is already cached.
func (pc *PriceCache) SetPrice(ctx context.Context, obs domain.PriceObservation) error {
	key := pc.c.key("price", obs.FeedID)
	fields := map[string]any{
		"price": strconv.FormatInt(obs.Price, 10),
		"conf":  strconv.FormatUint(obs.Conf, 10),
		"expo":  strconv.FormatInt(int64(obs.Expo), 10),
		"ts":    strconv.FormatInt(obs.PublishTime.Unix(), 10),
	}
	_, err := pc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if pc.ttl > 0 {
			pipe.Expire(ctx, key, pc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", obs.FeedID, err)
	}
	return nil
}

// LatestPrice returns the cached observation or domain.ErrNotFound.
func (pc *PriceCache) LatestPrice(ctx context.Context, feedID string) (domain.PriceObservation, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price", feedID)).Result()
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}
	if len(vals) == 0 {
		return domain.PriceObservation{}, domain.ErrNotFound
	}
	obs, err := parseObservation(feedID, vals)
	if err != nil {
		return domain.PriceObservation{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}
	return obs, nil
}

func parseObservation(feedID string, vals map[string]string) (domain.PriceObservation, error) {
	obs := domain.PriceObservation{FeedID: feedID}
	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil {
		return obs, fmt.Errorf("parse price: %w", err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return obs, fmt.Errorf("parse ts: %w", err)
	}
	expo, err := strconv.ParseInt(vals["expo"], 10, 32)
	if err != nil {
		return obs, fmt.Errorf("parse expo: %w", err)
	}
	// conf is informational; a missing field reads as zero.
	conf, _ := strconv.ParseUint(vals["conf"], 10, 64)

	obs.Price = price
	obs.Conf = conf
	obs.Expo = int32(expo)
	obs.PublishTime = time.Unix(ts, 0).UTC()
	return obs, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
