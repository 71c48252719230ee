package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/crypto"
	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/oracle"
	"github.com/alanyoungcy/bullbear/internal/store/memory"
)

const (
	operator = "0x1111111111111111111111111111111111111111"
	alice    = "0x2222222222222222222222222222222222222222"
	bob      = "0x3333333333333333333333333333333333333333"
	carol    = "0x4444444444444444444444444444444444444444"
	mallory  = "0x5555555555555555555555555555555555555555"
	token    = "0x6666666666666666666666666666666666666666"
	feeToken = "0x7777777777777777777777777777777777777777"

	feedID      = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
	otherFeedID = "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"

	interval uint64 = 300
	fee      uint64 = 50
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

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	eng       *Engine
	store     *memory.Store
	prices    *oracle.StaticSource
	clock     *manualClock
	events    *recorder
	sealer    *crypto.VaultSealer
	protocol  domain.Protocol
	game      domain.Game
	deposited uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	sealer, err := crypto.NewVaultSealer("test-custody-secret-0123456789")
	require.NoError(t, err)

	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := memory.New(sealer.Verifier())
	prices := oracle.NewStaticSource(nil)
	events := &recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := New(store, oracle.NewReader(prices, clock), sealer, events, Options{Clock: clock}, logger)

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		eng:    eng,
		store:  store,
		prices: prices,
		clock:  clock,
		events: events,
		sealer: sealer,
	}

	h.protocol, err = eng.CreateProtocol(h.ctx, operator, fee, feeToken)
	require.NoError(t, err)
	h.deposit(operator, feeToken, fee)

	h.game, err = eng.CreateGame(h.ctx, operator, domain.GameParams{
		Protocol:      h.protocol.Key,
		Token:         token,
		FeedID:        feedID,
		RoundInterval: interval,
	})
	require.NoError(t, err)

	h.setPrice(100_000)
	return h
}

func (h *harness) deposit(owner, tok string, amount uint64) {
	h.t.Helper()
	_, err := h.eng.Deposit(h.ctx, owner, tok, amount)
	require.NoError(h.t, err)
	h.deposited += amount
}

// setPrice publishes price for the game feed at the current time.
func (h *harness) setPrice(price int64) {
	h.setPriceAt(feedID, price, h.clock.Now())
}

func (h *harness) setPriceAt(feed string, price int64, at time.Time) {
	h.t.Helper()
	require.NoError(h.t, h.prices.SetPrice(h.ctx, domain.PriceObservation{
		FeedID:      feed,
		Price:       price,
		Expo:        -8,
		PublishTime: at,
	}))
}

func (h *harness) startRound() domain.Round {
	h.t.Helper()
	_, err := h.eng.CreateRound(h.ctx, operator, h.game.Key)
	require.NoError(h.t, err)
	r, err := h.eng.StartRound(h.ctx, operator, h.game.Key)
	require.NoError(h.t, err)
	return r
}

func (h *harness) bet(player string, side domain.Movement, amount uint64) domain.Bet {
	h.t.Helper()
	h.deposit(player, token, amount)
	b, err := h.eng.PlaceBet(h.ctx, player, BetParams{Game: h.game.Key, Prediction: side, Amount: amount})
	require.NoError(h.t, err)
	return b
}

// finish closes betting and ends the round at endPrice.
func (h *harness) finish(endPrice int64) domain.Round {
	h.t.Helper()
	h.clock.Advance(time.Duration(interval/2) * time.Second)
	_, err := h.eng.CloseBetting(h.ctx, operator, h.game.Key)
	require.NoError(h.t, err)
	h.clock.Advance(time.Duration(interval-interval/2) * time.Second)
	h.setPrice(endPrice)
	r, err := h.eng.EndRound(h.ctx, operator, h.game.Key)
	require.NoError(h.t, err)
	return r
}

func (h *harness) balance(id string) uint64 {
	h.t.Helper()
	v, err := h.eng.Vault(h.ctx, id)
	require.NoError(h.t, err)
	return v.Balance
}

func (h *harness) walletBalance(owner string) uint64 {
	h.t.Helper()
	v, err := h.eng.Wallet(h.ctx, owner, token)
	require.NoError(h.t, err)
	return v.Balance
}

func (h *harness) requireConserved() {
	h.t.Helper()
	require.Equal(h.t, h.deposited, h.store.TotalBalance(), "value was created or destroyed")
}

// lockLog records the order in which each transaction reads game and round
// rows. Those reads take row locks on Postgres.
type lockLog struct {
	domain.Store
	mu  sync.Mutex
	txs [][]string
}

func (l *lockLog) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	var order []string
	err := l.Store.WithTx(ctx, func(tx domain.Tx) error {
		return fn(&orderedTx{Tx: tx, order: &order})
	})
	l.mu.Lock()
	l.txs = append(l.txs, order)
	l.mu.Unlock()
	return err
}

type orderedTx struct {
	domain.Tx
	order *[]string
}

func (t *orderedTx) GetGame(ctx context.Context, key string) (domain.Game, error) {
	*t.order = append(*t.order, "game")
	return t.Tx.GetGame(ctx, key)
}

func (t *orderedTx) GetRound(ctx context.Context, key string) (domain.Round, error) {
	*t.order = append(*t.order, "round")
	return t.Tx.GetRound(ctx, key)
}

// recordLocks swaps the harness engine for one whose transactions are
// logged.
func (h *harness) recordLocks() *lockLog {
	h.t.Helper()
	log := &lockLog{Store: h.store}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.eng = New(log, oracle.NewReader(h.prices, h.clock), h.sealer, h.events, Options{Clock: h.clock}, logger)
	return log
}
