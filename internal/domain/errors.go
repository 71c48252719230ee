package domain

import "errors"

// ErrorKind groups error codes by the class of precondition they report.
type ErrorKind string

const (
	KindAuthorization      ErrorKind = "authorization"
	KindStateViolation     ErrorKind = "state_violation"
	KindTemporalGate       ErrorKind = "temporal_gate"
	KindResourceExhaustion ErrorKind = "resource_exhaustion"
	KindEscrowFailure      ErrorKind = "escrow_failure"
	KindOracleFailure      ErrorKind = "oracle_failure"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindNotFound           ErrorKind = "not_found"
	KindConflict           ErrorKind = "conflict"
	KindInternal           ErrorKind = "internal"
)

// Error is a domain error with a stable code. Two errors are equal under
// errors.Is when their codes match.
type Error struct {
	Code    string
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

var (
	ErrNotFound      = newError(KindNotFound, "not_found", "not found")
	ErrAlreadyExists = newError(KindConflict, "already_exists", "already exists")
	ErrLockHeld      = newError(KindConflict, "lock_held", "lock already held")
	ErrRateLimited   = newError(KindResourceExhaustion, "rate_limited", "rate limited")

	ErrUnauthorized      = newError(KindAuthorization, "signer_not_authorized", "signer is not authorized")
	ErrInvalidSignature  = newError(KindAuthorization, "invalid_signature", "signature does not match signer")
	ErrSignatureExpired  = newError(KindAuthorization, "signature_expired", "signed request has expired")
	ErrNonceReplayed     = newError(KindAuthorization, "nonce_replayed", "nonce has already been used")
	ErrVaultSealMismatch = newError(KindEscrowFailure, "vault_authority_invalid", "vault authority does not own the vault")

	ErrCurrentRoundNotEnded   = newError(KindStateViolation, "current_round_not_ended", "round has not ended")
	ErrRoundNotActive         = newError(KindStateViolation, "round_not_active", "round is not active")
	ErrRoundAlreadyStarted    = newError(KindStateViolation, "round_already_started", "round has already started")
	ErrRoundInProgress        = newError(KindStateViolation, "round_in_progress", "a round is in progress")
	ErrBettingIsClosed        = newError(KindStateViolation, "betting_is_closed", "betting is closed")
	ErrBettingNeedsToBeClosed = newError(KindStateViolation, "betting_needs_to_be_closed", "betting needs to be closed")
	ErrNoPrizeClaimable       = newError(KindStateViolation, "no_prize_claimable", "no prize to claim")
	ErrPrizeAlreadyClaimed    = newError(KindStateViolation, "prize_already_claimed", "prize has already been claimed")
	ErrNothingToWithdraw      = newError(KindStateViolation, "nothing_to_withdraw", "nothing to withdraw")
	ErrRoundAlreadySwept      = newError(KindStateViolation, "round_already_swept", "round vault has already been swept")
	ErrClaimWindowClosed      = newError(KindStateViolation, "claim_window_closed", "claim window has closed")

	ErrBettingPhaseNotEnded = newError(KindTemporalGate, "betting_phase_not_ended", "betting phase has not ended")
	ErrClaimWindowOpen      = newError(KindTemporalGate, "claim_window_open", "claim window is still open")

	ErrMaximumBetAmountReached = newError(KindResourceExhaustion, "maximum_bet_amount_reached", "maximum bet amount reached")
	ErrBalanceOverflow         = newError(KindResourceExhaustion, "balance_overflow", "vault balance would overflow")

	ErrInsufficientFunds = newError(KindEscrowFailure, "insufficient_funds", "insufficient vault balance")
	ErrTokenMismatch     = newError(KindEscrowFailure, "vault_token_mismatch", "vaults hold different tokens")

	ErrStalePrice       = newError(KindOracleFailure, "stale_price", "price observation is too old")
	ErrPriceUnavailable = newError(KindOracleFailure, "price_unavailable", "price feed has no observation")

	ErrInvalidPrediction = newError(KindInvalidInput, "invalid_prediction", "prediction must be up or down")
	ErrInvalidAmount     = newError(KindInvalidInput, "invalid_amount", "amount must be positive")
	ErrInvalidInterval   = newError(KindInvalidInput, "invalid_interval", "round interval must be positive")
	ErrWrongToken        = newError(KindInvalidInput, "wrong_token_address", "token does not match the game token")
	ErrInvalidInput      = newError(KindInvalidInput, "invalid_input", "invalid input")
)

// KindOf returns the kind of the first domain error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first domain error in err's chain.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal"
}
