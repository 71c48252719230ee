package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Protocol returns a protocol by key.
func (e *Engine) Protocol(ctx context.Context, key string) (domain.Protocol, error) {
	var p domain.Protocol
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		p, err = tx.GetProtocol(ctx, key)
		return err
	})
	return p, err
}

// Game returns a game by key.
func (e *Engine) Game(ctx context.Context, key string) (domain.Game, error) {
	var g domain.Game
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		g, err = tx.GetGame(ctx, key)
		return err
	})
	return g, err
}

// Round returns round number n of a game.
func (e *Engine) Round(ctx context.Context, gameKey string, n uint64) (domain.Round, error) {
	var r domain.Round
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		r, err = tx.GetRound(ctx, RoundKey(gameKey, n))
		return err
	})
	return r, err
}

// CurrentRound returns the round selected by the game's counter. It returns
// domain.ErrNotFound when that slot has not been created yet.
func (e *Engine) CurrentRound(ctx context.Context, gameKey string) (domain.Round, error) {
	var r domain.Round
	err := e.store.View(ctx, func(tx domain.Tx) error {
		g, err := tx.GetGame(ctx, gameKey)
		if err != nil {
			return err
		}
		r, err = tx.GetRound(ctx, RoundKey(g.Key, g.RoundCounter))
		return err
	})
	return r, err
}

// Rounds lists a game's rounds, newest first.
func (e *Engine) Rounds(ctx context.Context, gameKey string, opts domain.ListOpts) ([]domain.Round, error) {
	var rounds []domain.Round
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		rounds, err = tx.ListRounds(ctx, gameKey, opts)
		return err
	})
	return rounds, err
}

// Bet returns a bet by key.
func (e *Engine) Bet(ctx context.Context, key string) (domain.Bet, error) {
	var b domain.Bet
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		b, err = tx.GetBet(ctx, key)
		return err
	})
	return b, err
}

// PlayerBet returns a player's bet in round n of a game.
func (e *Engine) PlayerBet(ctx context.Context, player, gameKey string, n uint64) (domain.Bet, error) {
	player, err := NormalizeAddress(player)
	if err != nil {
		return domain.Bet{}, err
	}
	return e.Bet(ctx, BetKey(player, RoundKey(gameKey, n)))
}

// Bets lists the bets of round n of a game.
func (e *Engine) Bets(ctx context.Context, gameKey string, n uint64) ([]domain.Bet, error) {
	var bets []domain.Bet
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		bets, err = tx.ListBets(ctx, RoundKey(gameKey, n))
		return err
	})
	return bets, err
}

// Vault returns a vault by id.
func (e *Engine) Vault(ctx context.Context, id string) (domain.Vault, error) {
	var v domain.Vault
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		v, err = tx.GetVault(ctx, id)
		return err
	})
	return v, err
}

// Wallet returns an address's wallet for a token. A wallet that was never
// funded reads as an empty vault.
func (e *Engine) Wallet(ctx context.Context, owner, token string) (domain.Vault, error) {
	owner, err := NormalizeAddress(owner)
	if err != nil {
		return domain.Vault{}, err
	}
	token, err = NormalizeAddress(token)
	if err != nil {
		return domain.Vault{}, err
	}
	v, err := e.Vault(ctx, WalletKey(owner, token))
	if err == nil || !isNotFound(err) {
		return v, err
	}
	return domain.Vault{
		ID:    WalletKey(owner, token),
		Owner: owner,
		Kind:  domain.VaultWallet,
		Token: token,
	}, nil
}

// Deposit credits an address's wallet with externally supplied funds. It is
// the only operation that adds value to the system.
func (e *Engine) Deposit(ctx context.Context, owner, token string, amount uint64) (domain.Vault, error) {
	if amount == 0 {
		return domain.Vault{}, domain.ErrInvalidAmount
	}
	owner, err := NormalizeAddress(owner)
	if err != nil {
		return domain.Vault{}, err
	}
	token, err = NormalizeAddress(token)
	if err != nil {
		return domain.Vault{}, err
	}

	var v domain.Vault
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		id, err := ensureWallet(ctx, tx, owner, token)
		if err != nil {
			return err
		}
		if err := tx.Deposit(ctx, id, amount); err != nil {
			return err
		}
		v, err = tx.GetVault(ctx, id)
		return err
	})
	if err != nil {
		return domain.Vault{}, fmt.Errorf("engine: deposit: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: deposit credited",
		slog.String("owner", owner),
		slog.String("token", token),
		slog.Uint64("amount", amount),
	)
	return v, nil
}

// ProbeFeed reads a feed without touching any record. maxAge of zero uses
// the default max age.
func (e *Engine) ProbeFeed(ctx context.Context, feedID string, maxAge time.Duration) (domain.PriceObservation, error) {
	feedID, err := NormalizeFeedID(feedID)
	if err != nil {
		return domain.PriceObservation{}, err
	}
	if maxAge <= 0 {
		maxAge = e.opts.DefaultMaxAge
	}
	return e.oracle.ReadPrice(ctx, feedID, maxAge)
}
