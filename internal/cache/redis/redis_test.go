package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

func TestKeyNamespace(t *testing.T) {
	c := Wrap(nil, "")
	assert.Equal(t, "bullbear:price:0xabc", c.key("price", "0xabc"))
	assert.Equal(t, "staging:lock:g1", Wrap(nil, "staging:").key("lock", "g1"))
}

func TestParseObservation(t *testing.T) {
	obs, err := parseObservation("0xfeed", map[string]string{
		"price": "6512345000000",
		"conf":  "120000",
		"expo":  "-8",
		"ts":    "1767225600",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6512345000000), obs.Price)
	assert.Equal(t, uint64(120000), obs.Conf)
	assert.Equal(t, int32(-8), obs.Expo)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), obs.PublishTime)

	_, err = parseObservation("0xfeed", map[string]string{"price": "x", "ts": "1", "expo": "0"})
	require.Error(t, err)
}

func TestStreamPayload(t *testing.T) {
	b, ok := streamPayload(map[string]any{"payload": `{"a":1}`})
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(b))

	_, ok = streamPayload(map[string]any{"other": "x"})
	assert.False(t, ok)
}

// liveClient connects to BULLBEAR_TEST_REDIS_ADDR or skips. Every test gets
// its own key prefix.
func liveClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("BULLBEAR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BULLBEAR_TEST_REDIS_ADDR not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, "test:"+uuid.NewString()+":")
}

func TestLivePriceCache(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	pc := NewPriceCache(c, time.Minute)

	_, err := pc.LatestPrice(ctx, "0xfeed")
	require.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Unix(1767225600, 0).UTC()
	require.NoError(t, pc.SetPrice(ctx, domain.PriceObservation{FeedID: "0xfeed", Price: -5, Expo: -2, PublishTime: at}))
	obs, err := pc.LatestPrice(ctx, "0xfeed")
	require.NoError(t, err)
	assert.Equal(t, int64(-5), obs.Price)
	assert.Equal(t, at, obs.PublishTime)
}

func TestLiveLockAndNonce(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()

	lm := NewLockManager(c)
	unlock, err := lm.Acquire(ctx, "game-1", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "game-1", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "game-1", time.Minute)
	require.NoError(t, err)
	unlock2()

	g := NewNonceGuard(c)
	require.NoError(t, g.Use(ctx, "0xabc", "n1", time.Minute))
	require.ErrorIs(t, g.Use(ctx, "0xabc", "n1", time.Minute), domain.ErrNonceReplayed)
	require.NoError(t, g.Use(ctx, "0xdef", "n1", time.Minute))
}

func TestLiveRateLimiter(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "client", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLiveSignalBusStream(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	bus := NewSignalBus(c)

	require.NoError(t, bus.StreamAppend(ctx, "events", []byte(`{"type":"round_started"}`)))
	require.NoError(t, bus.StreamAppend(ctx, "events", []byte(`{"type":"round_ended"}`)))
	msgs, err := bus.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"type":"round_started"}`, string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, "events", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.JSONEq(t, `{"type":"round_ended"}`, string(rest[0].Payload))
}
