package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bullbear/internal/crypto"
	"github.com/alanyoungcy/bullbear/internal/domain"
)

const (
	maxEnvelopeBytes = 64 << 10
	defaultMaxTTL    = 10 * time.Minute
)

// Signer returns the address recovered from the request's envelope, or ""
// on unsigned routes.
func Signer(ctx context.Context) string {
	s, _ := ctx.Value(signerKey).(string)
	return s
}

// Payload returns the verified envelope payload.
func Payload(ctx context.Context) json.RawMessage {
	p, _ := ctx.Value(payloadKey).(json.RawMessage)
	return p
}

// Envelopes verifies signed request bodies. Each nonce is remembered until
// its envelope expires, so an envelope is accepted at most once.
type Envelopes struct {
	nonces domain.NonceGuard
	maxTTL time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewEnvelopes creates an envelope verifier. Envelopes that expire more
// than maxTTL in the future are refused so the nonce memory stays bounded.
func NewEnvelopes(nonces domain.NonceGuard, maxTTL time.Duration, logger *slog.Logger) *Envelopes {
	if maxTTL <= 0 {
		maxTTL = defaultMaxTTL
	}
	return &Envelopes{
		nonces: nonces,
		maxTTL: maxTTL,
		now:    time.Now,
		logger: logger.With(slog.String("component", "envelopes")),
	}
}

// Require wraps next so it only runs for a valid, fresh envelope signed
// for action and for this exact method and path. The signer and payload
// are available through Signer and Payload.
func (e *Envelopes) Require(action string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env crypto.Envelope
		dec := json.NewDecoder(io.LimitReader(r.Body, maxEnvelopeBytes))
		if err := dec.Decode(&env); err != nil {
			writeError(w, http.StatusBadRequest, domain.ErrInvalidInput.Code, "body must be a signed envelope")
			return
		}
		if env.Action != action {
			writeError(w, http.StatusBadRequest, domain.ErrInvalidInput.Code,
				"envelope is signed for "+env.Action+", not "+action)
			return
		}
		if target := RequestTarget(r); env.Target != target {
			writeError(w, http.StatusBadRequest, domain.ErrInvalidInput.Code,
				"envelope is signed for "+env.Target+", not "+target)
			return
		}

		now := e.now()
		signer, err := crypto.Verify(env, now)
		if err != nil {
			writeError(w, http.StatusUnauthorized, domain.CodeOf(err), err.Error())
			return
		}
		ttl := time.Unix(env.ExpiresAt, 0).Sub(now)
		if ttl > e.maxTTL {
			writeError(w, http.StatusBadRequest, domain.ErrInvalidInput.Code, "envelope expiry is too far in the future")
			return
		}

		err = e.nonces.Use(r.Context(), signer, env.Nonce, ttl+time.Second)
		switch {
		case errors.Is(err, domain.ErrNonceReplayed):
			writeError(w, http.StatusConflict, domain.ErrNonceReplayed.Code, domain.ErrNonceReplayed.Message)
			return
		case err != nil:
			e.logger.ErrorContext(r.Context(), "nonce guard failed", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "unavailable", "replay protection is unavailable")
			return
		}

		if info, ok := r.Context().Value(infoKey).(*requestInfo); ok {
			info.signer = signer
		}
		ctx := context.WithValue(r.Context(), signerKey, signer)
		ctx = context.WithValue(ctx, payloadKey, env.Payload)
		next(w, r.WithContext(ctx))
	})
}

// RequestTarget is the envelope target of r: its method and path.
func RequestTarget(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// writeError sends a JSON error body with a stable code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	data, _ := json.Marshal(map[string]string{"error": msg, "code": code})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
