package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// CreateRound opens the round slot selected by the game's round counter.
func (e *Engine) CreateRound(ctx context.Context, authority, gameKey string) (domain.Round, error) {
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return domain.Round{}, err
	}

	var r domain.Round
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		g, err := loadGame(ctx, tx, gameKey, authority)
		if err != nil {
			return err
		}
		key := RoundKey(g.Key, g.RoundCounter)
		r = domain.Round{
			Key:       key,
			Game:      g.Key,
			Number:    g.RoundCounter,
			Betting:   domain.BettingClosed,
			State:     domain.RoundInactive,
			Outcome:   domain.MovementNone,
			Vault:     VaultKey(key),
			CreatedAt: e.clock.Now().UTC(),
		}
		if err := tx.InsertRound(ctx, r); err != nil {
			return err
		}
		return tx.OpenVault(ctx, domain.Vault{
			ID:    r.Vault,
			Owner: key,
			Kind:  domain.VaultRound,
			Token: g.Token,
		})
	})
	if err != nil {
		return domain.Round{}, fmt.Errorf("engine: create round: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: round created",
		slog.String("game", gameKey),
		slog.Uint64("round", r.Number),
	)
	e.emit(ctx, domain.Event{
		Type:        domain.EventRoundCreated,
		Actor:       authority,
		Game:        gameKey,
		Round:       r.Key,
		RoundNumber: r.Number,
	})
	return r, nil
}

// StartRound records the opening price and opens betting. The oracle may be
// as old as the round interval, but never less than the default max age.
func (e *Engine) StartRound(ctx context.Context, authority, gameKey string) (domain.Round, error) {
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return domain.Round{}, err
	}

	now := e.clock.Now()
	var r domain.Round
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		g, err := loadGame(ctx, tx, gameKey, authority)
		if err != nil {
			return err
		}
		r, err = tx.GetRound(ctx, RoundKey(g.Key, g.RoundCounter))
		if err != nil {
			return fmt.Errorf("round %d: %w", g.RoundCounter, err)
		}
		if r.Started() || r.State != domain.RoundInactive {
			return domain.ErrRoundAlreadyStarted
		}

		maxAge := max(e.opts.DefaultMaxAge, time.Duration(g.RoundInterval)*time.Second)
		obs, err := e.oracle.ReadPrice(ctx, g.FeedID, maxAge)
		if err != nil {
			return err
		}

		r.StartTime = now.Unix()
		r.EndTime = r.StartTime + int64(g.RoundInterval)
		r.Interval = g.RoundInterval
		r.StartPrice = obs.Price
		r.PriceExpo = obs.Expo
		r.State = domain.RoundActive
		r.Betting = domain.BettingOpen
		r.Outcome = domain.MovementNone
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		return domain.Round{}, fmt.Errorf("engine: start round: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: round started",
		slog.String("game", gameKey),
		slog.Uint64("round", r.Number),
		slog.Int64("start_price", r.StartPrice),
		slog.Int64("end_time", r.EndTime),
	)
	e.emit(ctx, domain.Event{
		Type:        domain.EventRoundStarted,
		Actor:       authority,
		Game:        gameKey,
		Round:       r.Key,
		RoundNumber: r.Number,
		Price:       r.StartPrice,
	})
	return r, nil
}

// CloseBetting ends the betting window. It is allowed once half of the
// round's interval has passed.
func (e *Engine) CloseBetting(ctx context.Context, authority, gameKey string) (domain.Round, error) {
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return domain.Round{}, err
	}

	now := e.clock.Now().Unix()
	var r domain.Round
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		g, err := loadGame(ctx, tx, gameKey, authority)
		if err != nil {
			return err
		}
		r, err = tx.GetRound(ctx, RoundKey(g.Key, g.RoundCounter))
		if err != nil {
			return fmt.Errorf("round %d: %w", g.RoundCounter, err)
		}
		if r.State != domain.RoundActive {
			return domain.ErrRoundNotActive
		}
		if r.Betting != domain.BettingOpen {
			return domain.ErrBettingIsClosed
		}
		if now < r.StartTime+int64(r.Interval/2) {
			return domain.ErrBettingPhaseNotEnded
		}
		r.Betting = domain.BettingClosed
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		return domain.Round{}, fmt.Errorf("engine: close betting: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: betting closed",
		slog.String("game", gameKey),
		slog.Uint64("round", r.Number),
		slog.Uint64("total_up", r.TotalUp),
		slog.Uint64("total_down", r.TotalDown),
	)
	e.emit(ctx, domain.Event{
		Type:        domain.EventBettingClosed,
		Actor:       authority,
		Game:        gameKey,
		Round:       r.Key,
		RoundNumber: r.Number,
	})
	return r, nil
}

// EndRound reads the closing price, resolves the outcome and advances the
// game to its next round slot. When the price did not move the round vault
// is returned to the game vault, since no bet can win.
func (e *Engine) EndRound(ctx context.Context, authority, gameKey string) (domain.Round, error) {
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return domain.Round{}, err
	}

	now := e.clock.Now().Unix()
	var (
		r        domain.Round
		refunded uint64
	)
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		g, err := loadGame(ctx, tx, gameKey, authority)
		if err != nil {
			return err
		}
		r, err = tx.GetRound(ctx, RoundKey(g.Key, g.RoundCounter))
		if err != nil {
			return fmt.Errorf("round %d: %w", g.RoundCounter, err)
		}
		if r.State != domain.RoundActive {
			return domain.ErrRoundNotActive
		}
		if r.Betting != domain.BettingClosed {
			return domain.ErrBettingNeedsToBeClosed
		}
		if now < r.EndTime {
			return domain.ErrBettingPhaseNotEnded
		}

		obs, err := e.oracle.ReadPrice(ctx, g.FeedID, e.opts.DefaultMaxAge)
		if err != nil {
			return err
		}

		r.EndPrice = obs.Price
		r.Outcome = domain.Resolve(r.StartPrice, r.EndPrice)
		if r.Outcome == domain.MovementNoChange {
			v, err := tx.GetVault(ctx, r.Vault)
			if err != nil {
				return err
			}
			if v.Balance > 0 {
				refunded = v.Balance
				if err := tx.Transfer(ctx, r.Vault, g.Vault, refunded, e.sealer.Seal(r.Key)); err != nil {
					return err
				}
			}
		}
		r.State = domain.RoundEnded
		r.EndTime = now
		if err := tx.UpdateRound(ctx, r); err != nil {
			return err
		}

		g.RoundCounter++
		return tx.UpdateGame(ctx, g)
	})
	if err != nil {
		return domain.Round{}, fmt.Errorf("engine: end round: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: round ended",
		slog.String("game", gameKey),
		slog.Uint64("round", r.Number),
		slog.String("outcome", string(r.Outcome)),
		slog.Int64("start_price", r.StartPrice),
		slog.Int64("end_price", r.EndPrice),
		slog.Uint64("refunded", refunded),
	)
	e.emit(ctx, domain.Event{
		Type:        domain.EventRoundEnded,
		Actor:       authority,
		Game:        gameKey,
		Round:       r.Key,
		RoundNumber: r.Number,
		Outcome:     r.Outcome,
		Price:       r.EndPrice,
		Amount:      r.Pool(),
	})
	return r, nil
}
