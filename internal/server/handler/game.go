package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
)

// GameService is the engine surface the game handler needs.
type GameService interface {
	CreateGame(ctx context.Context, authority string, params domain.GameParams) (domain.Game, error)
	UpdateRoundInterval(ctx context.Context, authority, gameKey string, interval uint64) (domain.Game, error)
	UpdateFeed(ctx context.Context, authority, gameKey, feedID string) (domain.Game, error)
	WithdrawGameFunds(ctx context.Context, authority, gameKey string) (uint64, error)
	Game(ctx context.Context, key string) (domain.Game, error)
}

// GameHandler serves game endpoints.
type GameHandler struct {
	svc    GameService
	logger *slog.Logger
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(svc GameService, logger *slog.Logger) *GameHandler {
	return &GameHandler{svc: svc, logger: logHandler(logger, "game")}
}

// Create opens a game with the signer as its authority.
// POST /api/games (action create_game)
func (h *GameHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params domain.GameParams
	if err := decodePayload(r, &params); err != nil {
		badRequest(w, "invalid payload: "+err.Error())
		return
	}
	g, err := h.svc.CreateGame(r.Context(), middleware.Signer(r.Context()), params)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// Get returns a game.
// GET /api/games/{key}
func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Game(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type updateIntervalRequest struct {
	RoundInterval uint64 `json:"round_interval"`
}

// UpdateInterval changes the interval of rounds started from now on.
// POST /api/games/{key}/interval (action update_round_interval)
func (h *GameHandler) UpdateInterval(w http.ResponseWriter, r *http.Request) {
	var req updateIntervalRequest
	if err := decodePayload(r, &req); err != nil {
		badRequest(w, "invalid payload: "+err.Error())
		return
	}
	g, err := h.svc.UpdateRoundInterval(r.Context(), middleware.Signer(r.Context()), r.PathValue("key"), req.RoundInterval)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type updateFeedRequest struct {
	FeedID string `json:"feed_id"`
}

// UpdateFeed points the game at another price feed.
// POST /api/games/{key}/feed (action update_feed)
func (h *GameHandler) UpdateFeed(w http.ResponseWriter, r *http.Request) {
	var req updateFeedRequest
	if err := decodePayload(r, &req); err != nil {
		badRequest(w, "invalid payload: "+err.Error())
		return
	}
	g, err := h.svc.UpdateFeed(r.Context(), middleware.Signer(r.Context()), r.PathValue("key"), req.FeedID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// WithdrawFunds moves the game vault to the authority's wallet.
// POST /api/games/{key}/withdraw (action withdraw_game_funds)
func (h *GameHandler) WithdrawFunds(w http.ResponseWriter, r *http.Request) {
	amount, err := h.svc.WithdrawGameFunds(r.Context(), middleware.Signer(r.Context()), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount})
}
