// Package keeper drives games through their round lifecycle on a timer,
// acting as the game authority.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

const (
	defaultTick    = 5 * time.Second
	defaultLockTTL = 30 * time.Second
)

// Operator is the engine surface the keeper drives. *engine.Engine
// satisfies it.
type Operator interface {
	Game(ctx context.Context, key string) (domain.Game, error)
	CurrentRound(ctx context.Context, gameKey string) (domain.Round, error)
	CreateRound(ctx context.Context, authority, gameKey string) (domain.Round, error)
	StartRound(ctx context.Context, authority, gameKey string) (domain.Round, error)
	CloseBetting(ctx context.Context, authority, gameKey string) (domain.Round, error)
	EndRound(ctx context.Context, authority, gameKey string) (domain.Round, error)
}

// Config configures a Keeper.
type Config struct {
	Games   []string
	Tick    time.Duration
	LockTTL time.Duration
}

// Keeper advances each configured game one step per tick. A lock per game
// keeps two keepers from acting on the same game at once.
type Keeper struct {
	cfg       Config
	op        Operator
	locks     domain.LockManager
	clock     domain.Clock
	authority string
	logger    *slog.Logger
}

// New creates a Keeper that signs as authority. clock may be nil.
func New(cfg Config, op Operator, locks domain.LockManager, clock domain.Clock, authority string, logger *slog.Logger) *Keeper {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Keeper{
		cfg:       cfg,
		op:        op,
		locks:     locks,
		clock:     clock,
		authority: authority,
		logger:    logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks until ctx is cancelled. Call in a goroutine.
func (k *Keeper) Run(ctx context.Context) error {
	if len(k.cfg.Games) == 0 {
		k.logger.Info("no games configured, keeper idle")
		<-ctx.Done()
		return ctx.Err()
	}
	k.logger.Info("keeper started",
		slog.Int("games", len(k.cfg.Games)),
		slog.Duration("tick", k.cfg.Tick),
		slog.String("authority", k.authority),
	)

	ticker := time.NewTicker(k.cfg.Tick)
	defer ticker.Stop()
	for {
		k.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick advances every configured game once.
func (k *Keeper) Tick(ctx context.Context) {
	for _, game := range k.cfg.Games {
		if ctx.Err() != nil {
			return
		}
		if err := k.advance(ctx, game); err != nil {
			k.logger.WarnContext(ctx, "keeper step failed",
				slog.String("game", game),
				slog.String("code", domain.CodeOf(err)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (k *Keeper) advance(ctx context.Context, game string) error {
	unlock, err := k.locks.Acquire(ctx, "keeper:"+game, k.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		k.logger.DebugContext(ctx, "keeper lock held elsewhere", slog.String("game", game))
		return nil
	}
	if err != nil {
		return fmt.Errorf("keeper: lock: %w", err)
	}
	defer unlock()

	return k.Step(ctx, game)
}

// Step performs the single transition the game's current round is due for,
// if any. A round that ends is followed immediately by the next one.
func (k *Keeper) Step(ctx context.Context, game string) error {
	g, err := k.op.Game(ctx, game)
	if err != nil {
		return fmt.Errorf("keeper: load game: %w", err)
	}
	if !strings.EqualFold(g.Authority, k.authority) {
		return fmt.Errorf("keeper: game %s: %w", game, domain.ErrUnauthorized)
	}

	r, err := k.op.CurrentRound(ctx, game)
	if errors.Is(err, domain.ErrNotFound) {
		return k.open(ctx, game)
	}
	if err != nil {
		return fmt.Errorf("keeper: current round: %w", err)
	}

	now := k.clock.Now().Unix()
	switch {
	case r.State == domain.RoundInactive:
		return k.start(ctx, game)
	case r.State != domain.RoundActive:
		// An ended round is never current; the counter moved on.
		return nil
	case r.Betting == domain.BettingOpen && now >= r.StartTime+int64(r.Interval/2):
		if _, err := k.op.CloseBetting(ctx, k.authority, game); err != nil {
			return fmt.Errorf("keeper: close betting: %w", err)
		}
		k.logger.InfoContext(ctx, "keeper closed betting",
			slog.String("game", game),
			slog.Uint64("round", r.Number),
		)
		return nil
	case r.Betting == domain.BettingClosed && now >= r.EndTime:
		ended, err := k.op.EndRound(ctx, k.authority, game)
		if err != nil {
			return fmt.Errorf("keeper: end round: %w", err)
		}
		k.logger.InfoContext(ctx, "keeper ended round",
			slog.String("game", game),
			slog.Uint64("round", ended.Number),
			slog.String("outcome", string(ended.Outcome)),
		)
		return k.open(ctx, game)
	default:
		return nil
	}
}

func (k *Keeper) open(ctx context.Context, game string) error {
	r, err := k.op.CreateRound(ctx, k.authority, game)
	if err != nil {
		return fmt.Errorf("keeper: create round: %w", err)
	}
	k.logger.InfoContext(ctx, "keeper created round",
		slog.String("game", game),
		slog.Uint64("round", r.Number),
	)
	return k.start(ctx, game)
}

func (k *Keeper) start(ctx context.Context, game string) error {
	r, err := k.op.StartRound(ctx, k.authority, game)
	if err != nil {
		// The created round stays inactive and is started on a later tick.
		return fmt.Errorf("keeper: start round: %w", err)
	}
	k.logger.InfoContext(ctx, "keeper started round",
		slog.String("game", game),
		slog.Uint64("round", r.Number),
		slog.Int64("start_price", r.StartPrice),
		slog.Int64("end_time", r.EndTime),
	)
	return nil
}
