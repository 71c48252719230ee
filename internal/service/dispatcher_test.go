package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/cache/local"
	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/store/memory"
)

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeNotifier) Notify(_ context.Context, _, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeNotifier) Enabled(event string) bool { return event == string(domain.EventRoundEnded) }

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

type fakeArchive struct {
	mu       sync.Mutex
	receipts []domain.Receipt
}

func (f *fakeArchive) SaveReceipt(_ context.Context, r domain.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, r)
	return nil
}

func (f *fakeArchive) LoadReceipt(context.Context, string, uint64) (domain.Receipt, error) {
	return domain.Receipt{}, domain.ErrNotFound
}

func (f *fakeArchive) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receipts)
}

type fakeRounds struct{}

func (fakeRounds) Game(_ context.Context, key string) (domain.Game, error) {
	return domain.Game{Key: key}, nil
}

func (fakeRounds) Round(_ context.Context, gameKey string, n uint64) (domain.Round, error) {
	return domain.Round{Game: gameKey, Number: n, Outcome: domain.MovementDown}, nil
}

func (fakeRounds) Bets(context.Context, string, uint64) ([]domain.Bet, error) {
	return []domain.Bet{{Key: "b1", Amount: 5}}, nil
}

func TestDispatcherFansOut(t *testing.T) {
	bus := local.NewBus(0)
	audit := memory.NewAuditStore()
	notifier := &fakeNotifier{}
	archive := &fakeArchive{}
	d := NewDispatcher(DispatcherDeps{
		Bus:      bus,
		Audit:    audit,
		Notifier: notifier,
		Archive:  archive,
		Rounds:   fakeRounds{},
	}, 8, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(ctx, EventChannel)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Emit(ctx, domain.Event{Type: domain.EventBetPlaced, Game: "g", RoundNumber: 3, Amount: 10, Prediction: domain.MovementUp})
	d.Emit(ctx, domain.Event{Type: domain.EventRoundEnded, Game: "g", RoundNumber: 3, Outcome: domain.MovementDown, Price: 99, Amount: 10})

	var first domain.Event
	select {
	case raw := <-sub:
		require.NoError(t, json.Unmarshal(raw, &first))
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
	assert.Equal(t, domain.EventBetPlaced, first.Type)

	require.Eventually(t, func() bool { return archive.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Round 3 DOWN"}, notifier.sent())

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "10", entries[1].Detail["amount"])

	msgs, err := bus.StreamRead(ctx, EventStream, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(DispatcherDeps{}, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	d.Emit(ctx, domain.Event{Type: domain.EventBetPlaced})
	d.Emit(ctx, domain.Event{Type: domain.EventBetPlaced})
	assert.Equal(t, uint64(1), d.Dropped())
}

func TestRoundResultMessage(t *testing.T) {
	title, body := roundResultMessage(domain.Event{RoundNumber: 7, Outcome: domain.MovementNoChange, Game: "g", Price: 5, Amount: 9})
	assert.Equal(t, "Round 7 NO CHANGE", title)
	assert.Contains(t, body, "pool 9")
}
