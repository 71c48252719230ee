package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/bullbear/internal/domain"
	"github.com/alanyoungcy/bullbear/internal/server/middleware"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps err to a status code and writes {"error","code"}.
// Errors outside the domain taxonomy are logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse{Error: "internal server error", Code: "internal"})
		return
	}
	var de *domain.Error
	msg := err.Error()
	if errors.As(err, &de) && domain.KindOf(err) != domain.KindOracleFailure && domain.KindOf(err) != domain.KindInvalidInput {
		msg = de.Message
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: domain.CodeOf(err)})
}

// badRequest reports a malformed request.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: domain.ErrInvalidInput.Code})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	switch domain.KindOf(err) {
	case domain.KindAuthorization:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindStateViolation, domain.KindTemporalGate:
		return http.StatusConflict
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindResourceExhaustion, domain.KindEscrowFailure:
		return http.StatusUnprocessableEntity
	case domain.KindOracleFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodePayload decodes the verified envelope payload into v. Unknown
// fields are rejected so a typo cannot silently drop a parameter.
func decodePayload(r *http.Request, v any) error {
	payload := middleware.Payload(r.Context())
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseListOpts extracts pagination and time filters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until accept RFC 3339
// or unix seconds.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	var err error
	if opts.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return opts, err
	}
	if opts.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New("time must be RFC 3339 or unix seconds")
	}
	return &t, nil
}

// roundNumber reads the {number} path segment.
func roundNumber(r *http.Request) (uint64, error) {
	n, err := strconv.ParseUint(r.PathValue("number"), 10, 64)
	if err != nil {
		return 0, errors.New("round number must be a non-negative integer")
	}
	return n, nil
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
