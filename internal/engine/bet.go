package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// BetParams describes a stake in the current round of a game. Token is
// optional; when set it must match the game token.
type BetParams struct {
	Game       string          `json:"game"`
	Prediction domain.Movement `json:"prediction"`
	Amount     uint64          `json:"amount"`
	Token      string          `json:"token,omitempty"`
}

// PlaceBet stakes amount from the player's wallet on the current round.
func (e *Engine) PlaceBet(ctx context.Context, player string, params BetParams) (domain.Bet, error) {
	player, err := NormalizeAddress(player)
	if err != nil {
		return domain.Bet{}, err
	}
	if params.Prediction != domain.MovementUp && params.Prediction != domain.MovementDown {
		return domain.Bet{}, domain.ErrInvalidPrediction
	}
	if params.Amount == 0 {
		return domain.Bet{}, domain.ErrInvalidAmount
	}
	var token string
	if params.Token != "" {
		if token, err = NormalizeAddress(params.Token); err != nil {
			return domain.Bet{}, domain.ErrWrongToken
		}
	}

	var (
		b domain.Bet
		r domain.Round
	)
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		g, err := tx.GetGame(ctx, params.Game)
		if err != nil {
			return err
		}
		if token != "" && token != g.Token {
			return domain.ErrWrongToken
		}
		r, err = tx.GetRound(ctx, RoundKey(g.Key, g.RoundCounter))
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrRoundNotActive
		}
		if err != nil {
			return err
		}
		if r.State != domain.RoundActive {
			return domain.ErrRoundNotActive
		}
		if r.Betting != domain.BettingOpen {
			return domain.ErrBettingIsClosed
		}
		if err := addStake(&r, params.Prediction, params.Amount); err != nil {
			return err
		}
		r.BetCount++

		b = domain.Bet{
			Key:         BetKey(player, r.Key),
			Player:      player,
			Round:       r.Key,
			Game:        g.Key,
			RoundNumber: r.Number,
			Prediction:  params.Prediction,
			Amount:      params.Amount,
			PlacedAt:    e.clock.Now().UTC(),
		}
		if err := tx.InsertBet(ctx, b); err != nil {
			return err
		}

		wallet, err := ensureWallet(ctx, tx, player, g.Token)
		if err != nil {
			return err
		}
		if err := tx.Transfer(ctx, wallet, r.Vault, params.Amount, e.sealer.Seal(player)); err != nil {
			return err
		}
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		return domain.Bet{}, fmt.Errorf("engine: place bet: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: bet placed",
		slog.String("game", params.Game),
		slog.Uint64("round", r.Number),
		slog.String("player", player),
		slog.String("prediction", string(params.Prediction)),
		slog.Uint64("amount", params.Amount),
	)
	e.emit(ctx, domain.Event{
		Type:        domain.EventBetPlaced,
		Actor:       player,
		Game:        params.Game,
		Round:       r.Key,
		RoundNumber: r.Number,
		Prediction:  params.Prediction,
		Amount:      params.Amount,
	})
	return b, nil
}

// ClaimPrize pays a winning bet its share of the round pool.
func (e *Engine) ClaimPrize(ctx context.Context, player, betKey string) (domain.Bet, error) {
	player, err := NormalizeAddress(player)
	if err != nil {
		return domain.Bet{}, err
	}

	var b domain.Bet
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		b, err = tx.GetBet(ctx, betKey)
		if err != nil {
			return err
		}
		if b.Player != player {
			return domain.ErrUnauthorized
		}
		// Game before round, the lock order of every other transition.
		g, err := tx.GetGame(ctx, b.Game)
		if err != nil {
			return err
		}
		r, err := tx.GetRound(ctx, b.Round)
		if err != nil {
			return err
		}
		if r.State != domain.RoundEnded {
			return domain.ErrCurrentRoundNotEnded
		}
		if b.Prediction != r.Outcome {
			return domain.ErrNoPrizeClaimable
		}
		if b.Claimed {
			return domain.ErrPrizeAlreadyClaimed
		}
		if r.Swept {
			return domain.ErrClaimWindowClosed
		}

		payout, err := Payout(b.Amount, r.Pool(), r.WinningTotal())
		if err != nil {
			return err
		}
		wallet, err := ensureWallet(ctx, tx, player, g.Token)
		if err != nil {
			return err
		}
		if err := tx.Transfer(ctx, r.Vault, wallet, payout, e.sealer.Seal(r.Key)); err != nil {
			return err
		}
		b.Claimed = true
		b.Payout = payout
		return tx.UpdateBet(ctx, b)
	})
	if err != nil {
		return domain.Bet{}, fmt.Errorf("engine: claim prize: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: prize claimed",
		slog.String("game", b.Game),
		slog.Uint64("round", b.RoundNumber),
		slog.String("player", player),
		slog.Uint64("payout", b.Payout),
	)
	e.emit(ctx, domain.Event{
		Type:        domain.EventPrizeClaimed,
		Actor:       player,
		Game:        b.Game,
		Round:       b.Round,
		RoundNumber: b.RoundNumber,
		Prediction:  b.Prediction,
		Amount:      b.Payout,
	})
	return b, nil
}

// SweepRound returns what is left in an ended round's vault to the game
// vault once the claim window has passed. Later claims are refused.
func (e *Engine) SweepRound(ctx context.Context, authority, gameKey string, number uint64) (uint64, error) {
	authority, err := NormalizeAddress(authority)
	if err != nil {
		return 0, err
	}

	now := e.clock.Now()
	var amount uint64
	err = e.store.WithTx(ctx, func(tx domain.Tx) error {
		g, err := loadGame(ctx, tx, gameKey, authority)
		if err != nil {
			return err
		}
		r, err := tx.GetRound(ctx, RoundKey(g.Key, number))
		if err != nil {
			return err
		}
		if r.State != domain.RoundEnded {
			return domain.ErrCurrentRoundNotEnded
		}
		if r.Swept {
			return domain.ErrRoundAlreadySwept
		}
		if now.Unix() < r.EndTime+int64(e.opts.ClaimWindow.Seconds()) {
			return domain.ErrClaimWindowOpen
		}
		v, err := tx.GetVault(ctx, r.Vault)
		if err != nil {
			return err
		}
		if v.Balance == 0 {
			return domain.ErrNothingToWithdraw
		}
		amount = v.Balance
		if err := tx.Transfer(ctx, r.Vault, g.Vault, amount, e.sealer.Seal(r.Key)); err != nil {
			return err
		}
		r.Swept = true
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		return 0, fmt.Errorf("engine: sweep round: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: round swept",
		slog.String("game", gameKey),
		slog.Uint64("round", number),
		slog.Uint64("amount", amount),
	)
	e.emit(ctx, domain.Event{
		Type:        domain.EventRoundSwept,
		Actor:       authority,
		Game:        gameKey,
		Round:       RoundKey(gameKey, number),
		RoundNumber: number,
		Amount:      amount,
	})
	return amount, nil
}
