package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewBus(0)
	ctx, cancel := context.WithCancel(context.Background())

	exact, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)
	wild, err := b.Subscribe(ctx, "ev*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "events", []byte("x")))
	require.NoError(t, b.Publish(ctx, "prices", []byte("y")))

	assert.Equal(t, []byte("x"), <-exact)
	assert.Equal(t, []byte("x"), <-wild)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-exact
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestBusStream(t *testing.T) {
	b := NewBus(2)
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "s", []byte(p)))
	}

	msgs, err := b.StreamRead(ctx, "s", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "trimmed to max length")
	assert.Equal(t, "b", string(msgs[0].Payload))

	msgs, err = b.StreamRead(ctx, "s", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", string(msgs[0].Payload))
}

func TestNonceGuardExpiry(t *testing.T) {
	g := NewNonceGuard()
	now := time.Unix(1000, 0)
	g.seen.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, g.Use(ctx, "a", "1", time.Minute))
	require.ErrorIs(t, g.Use(ctx, "a", "1", time.Minute), domain.ErrNonceReplayed)
	require.NoError(t, g.Use(ctx, "b", "1", time.Minute))

	now = now.Add(2 * time.Minute)
	require.NoError(t, g.Use(ctx, "a", "1", time.Minute))
}

func TestLockManager(t *testing.T) {
	l := NewLockManager()
	ctx := context.Background()
	unlock, err := l.Acquire(ctx, "g", time.Minute)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "g", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	unlock()
	_, err = l.Acquire(ctx, "g", time.Minute)
	require.NoError(t, err)
}

func TestRateLimiterWindow(t *testing.T) {
	r := NewRateLimiter()
	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := r.Allow(ctx, "ip", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := r.Allow(ctx, "ip", 2, time.Second)
	assert.False(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, _ = r.Allow(ctx, "ip", 2, time.Second)
	assert.True(t, ok)
}
