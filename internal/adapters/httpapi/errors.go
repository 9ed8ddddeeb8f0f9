package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"funnelcore/internal/blob"
	"funnelcore/pkg/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// statusFor maps the domain error taxonomy onto HTTP.
func statusFor(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}
	if rej, ok := domain.AsRejection(err); ok {
		body.Error = "rejected"
		body.Reason = string(rej.Reason)
		body.Message = rej.Message
		return http.StatusUnprocessableEntity, body
	}
	switch {
	case domain.IsNotFound(err):
		body.Error = "not_found"
		return http.StatusNotFound, body
	case domain.IsConflict(err):
		body.Error = "conflict"
		return http.StatusConflict, body
	case domain.IsValidation(err):
		body.Error = "invalid_request"
		return http.StatusBadRequest, body
	case errors.Is(err, blob.ErrUnsupported):
		body.Error = "unsupported"
		return http.StatusNotImplemented, body
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		body.Error = "timeout"
		body.Message = "request cancelled"
		return http.StatusServiceUnavailable, body
	case domain.IsStorage(err):
		body.Error = "storage"
		body.Message = "storage unavailable"
		return http.StatusInternalServerError, body
	}
	body.Error = "internal"
	body.Message = "internal error"
	return http.StatusInternalServerError, body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}
