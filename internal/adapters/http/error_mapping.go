package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

const backendRetryAfterSeconds = "5"

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrIndexNotBuilt), domain.IsKind(err, domain.ErrEmptyCorpus):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrBackendTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrGenerationFormat):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if domain.IsKind(err, domain.ErrBackendUnavailable) {
		w.Header().Set("Retry-After", backendRetryAfterSeconds)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorPayload{
		Error:     message,
		Kind:      domain.ErrorKind(err),
		RequestID: requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
