package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
)

// RoundService is the engine surface the round handler needs.
type RoundService interface {
	CreateRound(ctx context.Context, authority, gameKey string) (domain.Round, error)
	StartRound(ctx context.Context, authority, gameKey string) (domain.Round, error)
	CloseBetting(ctx context.Context, authority, gameKey string) (domain.Round, error)
	EndRound(ctx context.Context, authority, gameKey string) (domain.Round, error)
	SweepRound(ctx context.Context, authority, gameKey string, number uint64) (uint64, error)

	Round(ctx context.Context, gameKey string, n uint64) (domain.Round, error)
	CurrentRound(ctx context.Context, gameKey string) (domain.Round, error)
	Rounds(ctx context.Context, gameKey string, opts domain.ListOpts) ([]domain.Round, error)
	Bets(ctx context.Context, gameKey string, n uint64) ([]domain.Bet, error)
}

// ReceiptStore reads archived settlement receipts.
type ReceiptStore interface {
	LoadReceipt(ctx context.Context, gameKey string, roundNumber uint64) (domain.Receipt, error)
	ListReceipts(ctx context.Context, gameKey string) ([]domain.BlobInfo, error)
}

// RoundHandler serves round endpoints. receipts may be nil, in which case
// the receipt endpoints report not found.
type RoundHandler struct {
	svc      RoundService
	receipts ReceiptStore
	logger   *slog.Logger
}

// NewRoundHandler creates a RoundHandler.
func NewRoundHandler(svc RoundService, receipts ReceiptStore, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{svc: svc, receipts: receipts, logger: logHandler(logger, "round")}
}

type transition func(ctx context.Context, authority, gameKey string) (domain.Round, error)

func (h *RoundHandler) transition(w http.ResponseWriter, r *http.Request, fn transition, status int) {
	round, err := fn(r.Context(), middleware.Signer(r.Context()), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, status, round)
}

// Create opens the game's next round slot.
// POST /api/games/{key}/rounds (action create_round)
func (h *RoundHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CreateRound, http.StatusCreated)
}

// Start records the opening price and opens betting.
// POST /api/games/{key}/rounds/current/start (action start_round)
func (h *RoundHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.StartRound, http.StatusOK)
}

// CloseBetting ends the betting window of the current round.
// POST /api/games/{key}/rounds/current/close (action close_betting)
func (h *RoundHandler) CloseBetting(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CloseBetting, http.StatusOK)
}

// End settles the current round.
// POST /api/games/{key}/rounds/current/end (action end_round)
func (h *RoundHandler) End(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.EndRound, http.StatusOK)
}

// Sweep moves an expired round vault to the game vault.
// POST /api/games/{key}/rounds/{number}/sweep (action sweep_round)
func (h *RoundHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := roundNumber(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	amount, err := h.svc.SweepRound(r.Context(), middleware.Signer(r.Context()), r.PathValue("key"), n)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount})
}

// Current returns the round selected by the game's counter.
// GET /api/games/{key}/rounds/current
func (h *RoundHandler) Current(w http.ResponseWriter, r *http.Request) {
	round, err := h.svc.CurrentRound(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// Get returns one round.
// GET /api/games/{key}/rounds/{number}
func (h *RoundHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := roundNumber(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	round, err := h.svc.Round(r.Context(), r.PathValue("key"), n)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

type listRoundsResponse struct {
	Rounds []domain.Round `json:"rounds"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// List returns a game's rounds, newest first.
// GET /api/games/{key}/rounds?limit=50&offset=0&since=&until=
func (h *RoundHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	rounds, err := h.svc.Rounds(r.Context(), r.PathValue("key"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if rounds == nil {
		rounds = []domain.Round{}
	}
	writeJSON(w, http.StatusOK, listRoundsResponse{Rounds: rounds, Limit: opts.Limit, Offset: opts.Offset})
}

// Bets returns every bet of a round.
// GET /api/games/{key}/rounds/{number}/bets
func (h *RoundHandler) Bets(w http.ResponseWriter, r *http.Request) {
	n, err := roundNumber(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	bets, err := h.svc.Bets(r.Context(), r.PathValue("key"), n)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

// Receipt returns the archived settlement receipt of an ended round.
// GET /api/games/{key}/rounds/{number}/receipt
func (h *RoundHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	n, err := roundNumber(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if h.receipts == nil {
		writeError(w, r, h.logger, domain.ErrNotFound)
		return
	}
	rec, err := h.receipts.LoadReceipt(r.Context(), r.PathValue("key"), n)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Receipts lists the archived receipts of a game.
// GET /api/games/{key}/receipts
func (h *RoundHandler) Receipts(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		writeError(w, r, h.logger, domain.ErrNotFound)
		return
	}
	infos, err := h.receipts.ListReceipts(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	type item struct {
		Path         string `json:"path"`
		Size         int64  `json:"size"`
		LastModified string `json:"last_modified"`
	}
	items := make([]item, 0, len(infos))
	for _, info := range infos {
		items = append(items, item{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": items})
}
