// Package handler exposes the REST surface: one thin handler per
// resource, translating HTTP to service calls and domain errors to the
// platform's error envelope.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/adrienverge/localstripe/internal/domain"
)

// errorCodeToHTTPStatus maps domain error codes to HTTP status codes.
// Unimplemented request shapes map to 500, matching the platform being
// simulated, not to 501.
func errorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EMETHODNOTALLOWED:
		return http.StatusMethodNotAllowed
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse writes the error envelope for err. Declines carry the
// decline code and the id of the failed charge alongside the message.
func (h *Handler) ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := errorCodeToHTTPStatus(code)

	if status >= 500 {
		h.logger.Error("request failed", "error", err, "path", r.URL.Path, "method", r.Method)
	} else {
		h.logger.Debug("request rejected", "error", err, "path", r.URL.Path, "method", r.Method, "status", status)
	}

	errType := "invalid_request_error"
	body := map[string]any{
		"type":    errType,
		"message": domain.ErrorMessage(err),
	}
	if code == domain.EPAYMENT {
		body["type"] = "card_error"
		declineCode, chargeID := domain.ErrorDetails(err)
		body["code"] = declineCode
		body["decline_code"] = declineCode
		if chargeID != "" {
			body["charge"] = chargeID
		}
	}
	if code == domain.EINTERNAL || code == domain.ENOTIMPL {
		body["type"] = "api_error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": body}); err != nil {
		slog.Default().Error("writing error response failed", "error", err)
	}
}
