package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

const (
	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// PriceChannel carries every accepted observation on the signal bus.
	PriceChannel = "prices"
)

// Config configures a HermesFeed.
type Config struct {
	URL     string
	FeedIDs []string
}

// HermesFeed subscribes to Pyth Hermes and writes each new observation into
// the price cache the oracle reader consults. Observations older than the
// cached one are dropped.
type HermesFeed struct {
	cfg    Config
	cache  domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger

	mu     sync.Mutex
	latest map[string]time.Time
}

// NewHermesFeed creates a feed. bus may be nil.
func NewHermesFeed(cfg Config, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *HermesFeed {
	return &HermesFeed{
		cfg:    cfg,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "hermes_feed")),
		latest: make(map[string]time.Time),
	}
}

// Run connects and keeps the subscription alive until ctx is cancelled,
// reconnecting with exponential backoff.
func (f *HermesFeed) Run(ctx context.Context) error {
	if len(f.cfg.FeedIDs) == 0 {
		f.logger.Info("no feed ids to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		conn, err := dialHermes(ctx, f.cfg.URL, f.cfg.FeedIDs)
		if err == nil {
			f.logger.Info("hermes subscribed", slog.Int("feeds", len(f.cfg.FeedIDs)))
			delay = reconnectDelay
			err = conn.run(ctx, func(obs domain.PriceObservation) { f.accept(ctx, obs) }, func(err error) {
				f.logger.Debug("hermes message dropped", slog.String("error", err.Error()))
			})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("hermes disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *HermesFeed) accept(ctx context.Context, obs domain.PriceObservation) {
	f.mu.Lock()
	prev, seen := f.latest[obs.FeedID]
	if seen && !obs.PublishTime.After(prev) {
		f.mu.Unlock()
		return
	}
	f.latest[obs.FeedID] = obs.PublishTime
	f.mu.Unlock()

	if err := f.cache.SetPrice(ctx, obs); err != nil {
		f.logger.Warn("price cache write failed",
			slog.String("feed_id", obs.FeedID),
			slog.String("error", err.Error()),
		)
		return
	}

	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(obs)
	if err != nil {
		return
	}
	if err := f.bus.Publish(ctx, PriceChannel, payload); err != nil {
		f.logger.Debug("price publish failed", slog.String("error", err.Error()))
	}
}
