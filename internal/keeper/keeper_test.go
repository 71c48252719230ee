package keeper

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/cache/local"
	"github.com/alanyoungcy/bullbear/internal/crypto"
	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
	"github.com/alanyoungcy/bullbear/internal/oracle"
	"github.com/alanyoungcy/bullbear/internal/store/memory"
)

const (
	operator = "0x1111111111111111111111111111111111111111"
	stranger = "0x2222222222222222222222222222222222222222"
	token    = "0x6666666666666666666666666666666666666666"
	feedID   = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
	unpriced = "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"

	interval uint64 = 60
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx    context.Context
	eng    *engine.Engine
	prices *oracle.StaticSource
	clock  *manualClock
	locks  *local.LockManager
	game   domain.Game
	logger *slog.Logger
}

func newFixture(t *testing.T, feed string) *fixture {
	t.Helper()
	sealer, err := crypto.NewVaultSealer("keeper-test-custody-secret")
	require.NoError(t, err)

	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	prices := oracle.NewStaticSource(clock)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(memory.New(sealer.Verifier()), oracle.NewReader(prices, clock), sealer, nil,
		engine.Options{Clock: clock}, logger)

	ctx := context.Background()
	p, err := eng.CreateProtocol(ctx, operator, 0, token)
	require.NoError(t, err)
	g, err := eng.CreateGame(ctx, operator, domain.GameParams{
		Protocol:      p.Key,
		Token:         token,
		FeedID:        feed,
		RoundInterval: interval,
	})
	require.NoError(t, err)

	// Undated observations are stamped with the clock, so they never go stale.
	require.NoError(t, prices.SetPrice(ctx, domain.PriceObservation{FeedID: feedID, Price: 100, Expo: -2}))

	return &fixture{
		ctx:    ctx,
		eng:    eng,
		prices: prices,
		clock:  clock,
		locks:  local.NewLockManager(),
		game:   g,
		logger: logger,
	}
}

func (f *fixture) keeper(authority string) *Keeper {
	return New(Config{Games: []string{f.game.Key}}, f.eng, f.locks, f.clock, authority, f.logger)
}

func (f *fixture) current(t *testing.T) domain.Round {
	t.Helper()
	r, err := f.eng.CurrentRound(f.ctx, f.game.Key)
	require.NoError(t, err)
	return r
}

func TestKeeperDrivesRoundLifecycle(t *testing.T) {
	f := newFixture(t, feedID)
	k := f.keeper(operator)

	require.NoError(t, k.Step(f.ctx, f.game.Key))
	r := f.current(t)
	assert.Equal(t, uint64(0), r.Number)
	assert.Equal(t, domain.RoundActive, r.State)
	assert.Equal(t, domain.BettingOpen, r.Betting)

	f.clock.Advance(29 * time.Second)
	require.NoError(t, k.Step(f.ctx, f.game.Key))
	assert.Equal(t, domain.BettingOpen, f.current(t).Betting, "betting closes at half the interval")

	f.clock.Advance(time.Second)
	require.NoError(t, k.Step(f.ctx, f.game.Key))
	assert.Equal(t, domain.BettingClosed, f.current(t).Betting)

	f.clock.Advance(29 * time.Second)
	require.NoError(t, k.Step(f.ctx, f.game.Key))
	assert.Equal(t, uint64(0), f.current(t).Number, "round ends at its end time")

	require.NoError(t, f.prices.SetPrice(f.ctx, domain.PriceObservation{FeedID: feedID, Price: 120, Expo: -2}))
	f.clock.Advance(time.Second)
	require.NoError(t, k.Step(f.ctx, f.game.Key))

	ended, err := f.eng.Round(f.ctx, f.game.Key, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundEnded, ended.State)
	assert.Equal(t, domain.MovementUp, ended.Outcome)

	next := f.current(t)
	assert.Equal(t, uint64(1), next.Number)
	assert.Equal(t, domain.RoundActive, next.State)
	assert.Equal(t, int64(120), next.StartPrice)
}

func TestKeeperSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, feedID)
	unlock, err := f.locks.Acquire(f.ctx, "keeper:"+f.game.Key, time.Minute)
	require.NoError(t, err)

	k := f.keeper(operator)
	k.Tick(f.ctx)
	_, err = f.eng.CurrentRound(f.ctx, f.game.Key)
	require.ErrorIs(t, err, domain.ErrNotFound)

	unlock()
	k.Tick(f.ctx)
	assert.Equal(t, domain.RoundActive, f.current(t).State)
}

func TestKeeperRefusesForeignGame(t *testing.T) {
	f := newFixture(t, feedID)
	err := f.keeper(stranger).Step(f.ctx, f.game.Key)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestKeeperRetriesStartAfterOracleFailure(t *testing.T) {
	f := newFixture(t, unpriced)
	k := f.keeper(operator)

	err := k.Step(f.ctx, f.game.Key)
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Equal(t, domain.RoundInactive, f.current(t).State, "created round waits for a price")

	require.NoError(t, f.prices.SetPrice(f.ctx, domain.PriceObservation{FeedID: unpriced, Price: 7}))
	require.NoError(t, k.Step(f.ctx, f.game.Key))
	r := f.current(t)
	assert.Equal(t, uint64(0), r.Number)
	assert.Equal(t, domain.RoundActive, r.State)
}

func TestKeeperRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, feedID)
	k := New(Config{Games: []string{f.game.Key}, Tick: time.Millisecond}, f.eng, f.locks, f.clock, operator, f.logger)

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	require.Eventually(t, func() bool {
		r, err := f.eng.CurrentRound(f.ctx, f.game.Key)
		return err == nil && r.State == domain.RoundActive
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
}
