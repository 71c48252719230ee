// Package oracle applies the staleness rule to prices read from a
// domain.PriceSource.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Reader implements domain.Oracle on top of a price source.
type Reader struct {
	src   domain.PriceSource
	clock domain.Clock
}

// NewReader creates a Reader. clock may be nil.
func NewReader(src domain.PriceSource, clock domain.Clock) *Reader {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Reader{src: src, clock: clock}
}

// ReadPrice returns the latest observation for feedID if it was published
// no more than maxAge ago.
func (r *Reader) ReadPrice(ctx context.Context, feedID string, maxAge time.Duration) (domain.PriceObservation, error) {
	obs, err := r.src.LatestPrice(ctx, feedID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PriceObservation{}, fmt.Errorf("oracle: feed %s: %w", feedID, domain.ErrPriceUnavailable)
		}
		if domain.KindOf(err) == domain.KindOracleFailure {
			return domain.PriceObservation{}, err
		}
		return domain.PriceObservation{}, fmt.Errorf("oracle: feed %s: %w: %v", feedID, domain.ErrPriceUnavailable, err)
	}
	if obs.PublishTime.IsZero() {
		return domain.PriceObservation{}, fmt.Errorf("oracle: feed %s: %w", feedID, domain.ErrPriceUnavailable)
	}

	age := r.clock.Now().Sub(obs.PublishTime)
	if age > maxAge {
		return domain.PriceObservation{}, fmt.Errorf("oracle: feed %s is %s old (max %s): %w",
			feedID, age.Truncate(time.Second), maxAge, domain.ErrStalePrice)
	}
	return obs, nil
}

var _ domain.Oracle = (*Reader)(nil)
