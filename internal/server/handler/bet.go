package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/engine"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
)

// BetService is the engine surface the bet handler needs.
type BetService interface {
	PlaceBet(ctx context.Context, player string, params engine.BetParams) (domain.Bet, error)
	ClaimPrize(ctx context.Context, player, betKey string) (domain.Bet, error)
	Bet(ctx context.Context, key string) (domain.Bet, error)
	PlayerBet(ctx context.Context, player, gameKey string, n uint64) (domain.Bet, error)
}

// BetHandler serves bet endpoints.
type BetHandler struct {
	svc    BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(svc BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{svc: svc, logger: logHandler(logger, "bet")}
}

// Place stakes the signer's funds on the current round of a game.
// POST /api/bets (action place_bet)
func (h *BetHandler) Place(w http.ResponseWriter, r *http.Request) {
	var params engine.BetParams
	if err := decodePayload(r, &params); err != nil {
		badRequest(w, "invalid payload: "+err.Error())
		return
	}
	prediction, err := domain.ParsePrediction(string(params.Prediction))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	params.Prediction = prediction
	b, err := h.svc.PlaceBet(r.Context(), middleware.Signer(r.Context()), params)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Claim pays out a winning bet to the signer's wallet.
// POST /api/bets/{key}/claim (action claim_prize)
func (h *BetHandler) Claim(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.ClaimPrize(r.Context(), middleware.Signer(r.Context()), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Get returns a bet by key.
// GET /api/bets/{key}
func (h *BetHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Bet(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetByPlayer returns a player's bet in one round.
// GET /api/games/{key}/rounds/{number}/bets/{player}
func (h *BetHandler) GetByPlayer(w http.ResponseWriter, r *http.Request) {
	n, err := roundNumber(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	b, err := h.svc.PlayerBet(r.Context(), r.PathValue("player"), r.PathValue("key"), n)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
