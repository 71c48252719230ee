package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type failingSource struct{ err error }

func (s failingSource) LatestPrice(context.Context, string) (domain.PriceObservation, error) {
	return domain.PriceObservation{}, s.err
}

func TestReadPriceStaleness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := NewStaticSource(nil)
	ctx := context.Background()
	require.NoError(t, src.SetPrice(ctx, domain.PriceObservation{FeedID: "fresh", Price: 10, PublishTime: now.Add(-60 * time.Second)}))
	require.NoError(t, src.SetPrice(ctx, domain.PriceObservation{FeedID: "old", Price: 10, PublishTime: now.Add(-61 * time.Second)}))
	require.NoError(t, src.SetPrice(ctx, domain.PriceObservation{FeedID: "undated", Price: 10}))
	require.NoError(t, src.SetPrice(ctx, domain.PriceObservation{FeedID: "ahead", Price: 12, PublishTime: now.Add(5 * time.Second)}))

	r := NewReader(src, fixedClock(now))

	obs, err := r.ReadPrice(ctx, "fresh", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(10), obs.Price)

	_, err = r.ReadPrice(ctx, "old", time.Minute)
	require.ErrorIs(t, err, domain.ErrStalePrice)
	assert.Equal(t, domain.KindOracleFailure, domain.KindOf(err))

	_, err = r.ReadPrice(ctx, "old", 2*time.Minute)
	require.NoError(t, err)

	_, err = r.ReadPrice(ctx, "missing", time.Minute)
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)

	_, err = r.ReadPrice(ctx, "undated", time.Minute)
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)

	obs, err = r.ReadPrice(ctx, "ahead", time.Minute)
	require.NoError(t, err, "publish times ahead of the local clock are accepted")
	assert.Equal(t, int64(12), obs.Price)
}

func TestReadPriceSourceFailure(t *testing.T) {
	r := NewReader(failingSource{err: errors.New("connection refused")}, nil)
	_, err := r.ReadPrice(context.Background(), "f", time.Minute)
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStaticSourceStampsUndatedPrices(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := NewStaticSource(fixedClock(now))
	ctx := context.Background()
	require.NoError(t, src.SetPrice(ctx, domain.PriceObservation{FeedID: "f", Price: 7}))

	obs, err := src.LatestPrice(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, now, obs.PublishTime)
}
