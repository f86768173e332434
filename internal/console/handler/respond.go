package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/xela07ax/orchestraguard-console/internal/connectors"
	"github.com/xela07ax/orchestraguard-console/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит доменные ошибки в HTTP-статусы.
func writeError(w http.ResponseWriter, err error) {
	var (
		pe *domain.ParseError
		te *connectors.ThrottleError
		fe *domain.FetchError
		se *domain.SubscriptionError
	)
	switch {
	case errors.As(err, &pe):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: pe.Err.Error(), Field: pe.Field})
	case errors.Is(err, domain.ErrPolicyNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "policy not found"})
	case errors.As(err, &te):
		if te.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(te.RetryAfter.Seconds())))
		}
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case errors.As(err, &se):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.As(err, &fe):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// intParam читает положительное целое из query, иначе def.
func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
