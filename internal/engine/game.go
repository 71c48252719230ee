package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// CreateGame opens a game under a protocol. The authority pays the
// protocol's creation fee from its fee-token wallet.
func (e *Engine) CreateGame(ctx context.Context, authority string, params domain.GameParams) (domain.Game, error) {
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return domain.Game{}, err
	}
	token, err := NormalizeAddress(params.Token)
	if err != nil {
		return domain.Game{}, err
	}
	feedID, err := NormalizeFeedID(params.FeedID)
	if err != nil {
		return domain.Game{}, err
	}
	if err := validInterval(params.RoundInterval); err != nil {
		return domain.Game{}, err
	}

	key := GameKey(authority, params.Protocol, token, feedID)
	g := domain.Game{
		Key:           key,
		Protocol:      params.Protocol,
		Authority:     authority,
		RoundInterval: params.RoundInterval,
		FeedID:        feedID,
		Token:         token,
		Vault:         VaultKey(key),
		CreatedAt:     e.clock.Now().UTC(),
	}

	var fee uint64
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		p, err := tx.GetProtocol(ctx, params.Protocol)
		if err != nil {
			return fmt.Errorf("protocol %s: %w", params.Protocol, err)
		}
		if err := tx.InsertGame(ctx, g); err != nil {
			return err
		}
		err = tx.OpenVault(ctx, domain.Vault{
			ID:    g.Vault,
			Owner: key,
			Kind:  domain.VaultGame,
			Token: token,
		})
		if err != nil {
			return err
		}
		if p.GameCreationFee == 0 {
			return nil
		}
		wallet, err := ensureWallet(ctx, tx, authority, p.FeeToken)
		if err != nil {
			return err
		}
		fee = p.GameCreationFee
		return tx.Transfer(ctx, wallet, p.Vault, fee, e.sealer.Seal(authority))
	})
	if err != nil {
		return domain.Game{}, fmt.Errorf("engine: create game: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: game created",
		slog.String("game", key),
		slog.String("feed_id", feedID),
		slog.Uint64("round_interval", params.RoundInterval),
		slog.Uint64("fee_paid", fee),
	)
	e.emit(ctx, domain.Event{
		Type:     domain.EventGameCreated,
		Actor:    authority,
		Protocol: params.Protocol,
		Game:     key,
		Amount:   fee,
	})
	return g, nil
}

// UpdateRoundInterval changes the interval used by rounds started from now
// on. A round that is already running keeps the interval it started with.
func (e *Engine) UpdateRoundInterval(ctx context.Context, authority, gameKey string, interval uint64) (domain.Game, error) {
	if err := validInterval(interval); err != nil {
		return domain.Game{}, err
	}
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return domain.Game{}, err
	}

	var g domain.Game
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		g, err = loadGame(ctx, tx, gameKey, authority)
		if err != nil {
			return err
		}
		g.RoundInterval = interval
		return tx.UpdateGame(ctx, g)
	})
	if err != nil {
		return domain.Game{}, fmt.Errorf("engine: update round interval: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: round interval updated",
		slog.String("game", gameKey),
		slog.Uint64("round_interval", interval),
	)
	e.emit(ctx, domain.Event{
		Type:        domain.EventIntervalUpdated,
		Actor:       authority,
		Game:        gameKey,
		RoundNumber: g.RoundCounter,
		Amount:      interval,
	})
	return g, nil
}

// UpdateFeed points the game at another oracle feed. It is refused while the
// current round is active, since that round resolves against its start feed.
func (e *Engine) UpdateFeed(ctx context.Context, authority, gameKey, feedID string) (domain.Game, error) {
	feedID, err := NormalizeFeedID(feedID)
	if err != nil {
		return domain.Game{}, err
	}
	authority, err = NormalizeAddress(authority)
	if err != nil {
		return domain.Game{}, err
	}

	var g domain.Game
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		g, err = loadGame(ctx, tx, gameKey, authority)
		if err != nil {
			return err
		}
		r, err := tx.GetRound(ctx, RoundKey(g.Key, g.RoundCounter))
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return err
		case r.State == domain.RoundActive:
			return domain.ErrRoundInProgress
		}
		g.FeedID = feedID
		return tx.UpdateGame(ctx, g)
	})
	if err != nil {
		return domain.Game{}, fmt.Errorf("engine: update feed: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: feed updated",
		slog.String("game", gameKey),
		slog.String("feed_id", feedID),
	)
	e.emit(ctx, domain.Event{
		Type:        domain.EventFeedUpdated,
		Actor:       authority,
		Game:        gameKey,
		RoundNumber: g.RoundCounter,
	})
	return g, nil
}

// WithdrawGameFunds moves the whole game vault to the authority's wallet
// and returns the amount moved.
func (e *Engine) WithdrawGameFunds(ctx context.Context, authority, gameKey string) (uint64, error) {
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return 0, err
	}

	var amount uint64
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		g, err := loadGame(ctx, tx, gameKey, authority)
		if err != nil {
			return err
		}
		v, err := tx.GetVault(ctx, g.Vault)
		if err != nil {
			return err
		}
		if v.Balance == 0 {
			return domain.ErrNothingToWithdraw
		}
		wallet, err := ensureWallet(ctx, tx, authority, g.Token)
		if err != nil {
			return err
		}
		amount = v.Balance
		return tx.Transfer(ctx, g.Vault, wallet, amount, e.sealer.Seal(g.Key))
	})
	if err != nil {
		return 0, fmt.Errorf("engine: withdraw game funds: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: game funds withdrawn",
		slog.String("game", gameKey),
		slog.Uint64("amount", amount),
	)
	e.emit(ctx, domain.Event{
		Type:   domain.EventGameWithdrawn,
		Actor:  authority,
		Game:   gameKey,
		Amount: amount,
	})
	return amount, nil
}
