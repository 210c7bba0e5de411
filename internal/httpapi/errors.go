package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"notifgw/internal/domain"
	"notifgw/internal/service"
)

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrDependency       = "dependency error"
	ErrNotFound         = "not found"
	ErrBadForm          = "bad form"
	ErrInvalidSignature = "invalid signature"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

// rejectionStatus maps an admission rejection reason to its HTTP status.
var rejectionStatus = map[string]int{
	"INVALID_REQUEST":    http.StatusBadRequest,
	"TEMPLATE_NOT_FOUND": http.StatusNotFound,
	"CHANNEL_NOT_FOUND":  http.StatusNotFound,
	"DUPLICATE_REQUEST":  http.StatusConflict,
	"TEMPLATE_DISABLED":  http.StatusUnprocessableEntity,
	"CHANNEL_DISABLED":   http.StatusUnprocessableEntity,
	"NO_RECIPIENTS":      http.StatusUnprocessableEntity,
	"HANDLER_NOT_FOUND":  http.StatusUnprocessableEntity,
	"RATE_LIMITED":       http.StatusTooManyRequests,
}

func writeSendError(w http.ResponseWriter, err error) {
	if reason := domain.Reason(err); reason != "" {
		status, ok := rejectionStatus[reason]
		if !ok {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, reason, err.Error())
		return
	}
	if errors.Is(err, service.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", ErrDependency)
		return
	}
	writeError(w, http.StatusBadGateway, "INTERNAL", ErrDependency)
}
