package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
)

// ProtocolService is the engine surface the protocol handler needs.
type ProtocolService interface {
	CreateProtocol(ctx context.Context, authority string, fee uint64, feeToken string) (domain.Protocol, error)
	WithdrawProtocolFees(ctx context.Context, authority, protocolKey string) (uint64, error)
	Protocol(ctx context.Context, key string) (domain.Protocol, error)
}

// ProtocolHandler serves protocol endpoints.
type ProtocolHandler struct {
	svc    ProtocolService
	logger *slog.Logger
}

// NewProtocolHandler creates a ProtocolHandler.
func NewProtocolHandler(svc ProtocolService, logger *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{svc: svc, logger: logHandler(logger, "protocol")}
}

type createProtocolRequest struct {
	GameCreationFee uint64 `json:"game_creation_fee"`
	FeeToken        string `json:"fee_token"`
}

// Create registers the signer as a protocol authority.
// POST /api/protocols (action create_protocol)
func (h *ProtocolHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProtocolRequest
	if err := decodePayload(r, &req); err != nil {
		badRequest(w, "invalid payload: "+err.Error())
		return
	}
	p, err := h.svc.CreateProtocol(r.Context(), middleware.Signer(r.Context()), req.GameCreationFee, req.FeeToken)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Get returns a protocol.
// GET /api/protocols/{key}
func (h *ProtocolHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Protocol(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// WithdrawFees moves the collected creation fees to the authority's wallet.
// POST /api/protocols/{key}/withdraw (action withdraw_protocol_fees)
func (h *ProtocolHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	amount, err := h.svc.WithdrawProtocolFees(r.Context(), middleware.Signer(r.Context()), r.PathValue("key"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount})
}

// amountResponse reports the value a withdrawal or sweep moved.
type amountResponse struct {
	Amount uint64 `json:"amount"`
}
