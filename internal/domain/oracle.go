package domain

import (
	"context"
	"time"
)

// DefaultMaxAge is the staleness floor applied to every oracle read.
const DefaultMaxAge = 60 * time.Second

// PriceObservation is one oracle reading. Price is in the feed's native
// scale, 10^Expo.
type PriceObservation struct {
	FeedID      string    `json:"feed_id"`
	Price       int64     `json:"price"`
	Conf        uint64    `json:"conf"`
	Expo        int32     `json:"expo"`
	PublishTime time.Time `json:"publish_time"`
}

// PriceSource returns the latest observation it holds for a feed, however
// old. It returns ErrNotFound when it has none.
type PriceSource interface {
	LatestPrice(ctx context.Context, feedID string) (PriceObservation, error)
}

// Oracle returns a price no older than maxAge, or ErrStalePrice.
type Oracle interface {
	ReadPrice(ctx context.Context, feedID string, maxAge time.Duration) (PriceObservation, error)
}

// Clock supplies wall-clock time to temporal gates.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
