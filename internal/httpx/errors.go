package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/garments-tracker/internal/observability"
	"github.com/ariefcatur/garments-tracker/internal/orders"
)

// apiError is the JSON error envelope: {error, message, status, request_id}.
type apiError struct {
	Code    string
	Message string
	Status  int
}

func newError(code, message string, status int) apiError {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return apiError{Code: sanitize(code, 80), Message: sanitize(message, 512), Status: status}
}

func writeError(ctx context.Context, w http.ResponseWriter, e apiError) {
	payload := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  e.Status,
	}
	if id := sanitize(middleware.GetReqID(ctx), 80); id != "" {
		payload["request_id"] = id
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorFromDomain maps sentinel errors onto HTTP status codes.
func errorFromDomain(err error) apiError {
	switch {
	case orders.IsNotFound(err):
		return newError("not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, orders.ErrInvalidInput):
		return newError("invalid_input", err.Error(), http.StatusBadRequest)
	case errors.Is(err, orders.ErrInvalidTransition):
		return newError("invalid_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, orders.ErrUpstreamUnavailable):
		return newError("upstream_unavailable", err.Error(), http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded):
		return newError("timeout", "request timed out", http.StatusGatewayTimeout)
	default:
		return newError("internal", "internal server error", http.StatusInternalServerError)
	}
}

func respondErr(ctx context.Context, w http.ResponseWriter, err error) {
	e := errorFromDomain(err)
	if e.Status >= http.StatusInternalServerError {
		observability.FromContext(ctx).Error("request failed", zap.Error(err))
	}
	writeError(ctx, w, e)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(dst)
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
