package oracle

import (
	"context"
	"sync"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// StaticSource is a price source fed by hand. It backs local runs and
// tests.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]domain.PriceObservation
	clock  domain.Clock
}

// NewStaticSource creates an empty StaticSource. When clock is set,
// observations stored without a publish time are stamped with its time on
// every read.
func NewStaticSource(clock domain.Clock) *StaticSource {
	return &StaticSource{
		prices: make(map[string]domain.PriceObservation),
		clock:  clock,
	}
}

// SetPrice stores obs as the latest observation of its feed.
func (s *StaticSource) SetPrice(_ context.Context, obs domain.PriceObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[obs.FeedID] = obs
	return nil
}

// LatestPrice returns the stored observation.
func (s *StaticSource) LatestPrice(_ context.Context, feedID string) (domain.PriceObservation, error) {
	s.mu.RLock()
	obs, ok := s.prices[feedID]
	s.mu.RUnlock()
	if !ok {
		return domain.PriceObservation{}, domain.ErrNotFound
	}
	if obs.PublishTime.IsZero() && s.clock != nil {
		obs.PublishTime = s.clock.Now()
	}
	return obs, nil
}

var _ domain.PriceCache = (*StaticSource)(nil)
