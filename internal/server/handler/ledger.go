package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// LedgerService is the engine surface the ledger handler needs.
type LedgerService interface {
	Vault(ctx context.Context, id string) (domain.Vault, error)
	Wallet(ctx context.Context, owner, token string) (domain.Vault, error)
	Deposit(ctx context.Context, owner, token string, amount uint64) (domain.Vault, error)
	ProbeFeed(ctx context.Context, feedID string, maxAge time.Duration) (domain.PriceObservation, error)
}

// BalanceSummer totals every vault of a token for reconciliation.
type BalanceSummer interface {
	SumBalances(ctx context.Context, token string) (string, error)
}

// LedgerHandler serves vault, wallet, feed and operator endpoints. audit
// and totals may be nil.
type LedgerHandler struct {
	svc    LedgerService
	audit  domain.AuditStore
	totals BalanceSummer
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(svc LedgerService, audit domain.AuditStore, totals BalanceSummer, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, audit: audit, totals: totals, logger: logHandler(logger, "ledger")}
}

// Vault returns a vault by id.
// GET /api/vaults/{id}
func (h *LedgerHandler) Vault(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Vault(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Wallet returns an address's wallet for a token.
// GET /api/wallets/{owner}/{token}
func (h *LedgerHandler) Wallet(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Wallet(r.Context(), r.PathValue("owner"), r.PathValue("token"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Feed reads a price feed through the staleness rule without touching any
// record.
// GET /api/feeds/{id}?max_age=60s
func (h *LedgerHandler) Feed(w http.ResponseWriter, r *http.Request) {
	var maxAge time.Duration
	if v := r.URL.Query().Get("max_age"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			badRequest(w, "max_age must be a duration such as 60s")
			return
		}
		maxAge = d
	}
	obs, err := h.svc.ProbeFeed(r.Context(), r.PathValue("id"), maxAge)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

type depositRequest struct {
	Owner  string `json:"owner"`
	Token  string `json:"token"`
	Amount uint64 `json:"amount"`
}

// Deposit credits a wallet with funds received outside the system.
// POST /api/admin/deposits (API key)
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	v, err := h.svc.Deposit(r.Context(), req.Owner, req.Token, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Audit lists audit log entries, newest first.
// GET /api/admin/audit?limit=50&offset=0
func (h *LedgerHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, r, h.logger, domain.ErrNotFound)
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": opts.Limit, "offset": opts.Offset})
}

// Reconcile reports the total held in every vault of a token, for
// comparison with external custody.
// GET /api/admin/ledger/{token}
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.totals == nil {
		writeError(w, r, h.logger, domain.ErrNotFound)
		return
	}
	token := r.PathValue("token")
	total, err := h.totals.SumBalances(r.Context(), token)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "total": total})
}
