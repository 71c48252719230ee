// Package engine runs the protocol, game and round state machines. Every
// operation is one store transaction: record mutations and vault transfers
// commit together or not at all.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

const (
	// DefaultClaimWindow is how long after a round ends its vault stays
	// claimable before the game authority may sweep it.
	DefaultClaimWindow = 7 * 24 * time.Hour

	// MaxRoundInterval bounds round_interval so start + interval fits in
	// the timestamp type.
	MaxRoundInterval uint64 = 366 * 24 * 60 * 60
)

// Options tunes the engine.
type Options struct {
	DefaultMaxAge time.Duration
	ClaimWindow   time.Duration
	Clock         domain.Clock
}

// Engine executes operations against a store.
type Engine struct {
	store  domain.Store
	oracle domain.Oracle
	sealer domain.VaultSealer
	events domain.EventSink
	clock  domain.Clock
	opts   Options
	logger *slog.Logger
}

// New creates an Engine. events may be nil.
func New(
	store domain.Store,
	oracle domain.Oracle,
	sealer domain.VaultSealer,
	events domain.EventSink,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if opts.DefaultMaxAge <= 0 {
		opts.DefaultMaxAge = domain.DefaultMaxAge
	}
	if opts.ClaimWindow <= 0 {
		opts.ClaimWindow = DefaultClaimWindow
	}
	clock := opts.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		oracle: oracle,
		sealer: sealer,
		events: events,
		clock:  clock,
		opts:   opts,
		logger: logger.With(slog.String("component", "engine")),
	}
}

func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	if e.events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.clock.Now().UTC()
	}
	e.events.Emit(ctx, ev)
}

// ensureWallet opens an empty wallet vault for owner if none exists.
func ensureWallet(ctx context.Context, tx domain.Tx, owner, token string) (string, error) {
	id := WalletKey(owner, token)
	_, err := tx.GetVault(ctx, id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	err = tx.OpenVault(ctx, domain.Vault{
		ID:    id,
		Owner: owner,
		Kind:  domain.VaultWallet,
		Token: token,
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return "", err
	}
	return id, nil
}

// loadGame reads a game and checks that caller is its authority.
func loadGame(ctx context.Context, tx domain.Tx, key, caller string) (domain.Game, error) {
	g, err := tx.GetGame(ctx, key)
	if err != nil {
		return domain.Game{}, fmt.Errorf("engine: load game: %w", err)
	}
	if g.Authority != caller {
		return domain.Game{}, domain.ErrUnauthorized
	}
	return g, nil
}

func validInterval(interval uint64) error {
	if interval == 0 || interval > MaxRoundInterval {
		return domain.ErrInvalidInterval
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
