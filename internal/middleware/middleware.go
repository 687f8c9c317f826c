// Package middleware carries the cross-cutting HTTP concerns: request
// identity, structured request logging, metrics, API-key auth and the
// global serialization lock.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/adrienverge/localstripe/internal/domain"
)

type contextKey string

// respondWithError writes the platform error envelope. Self-contained
// so the handler package can import middleware without a cycle.
func respondWithError(w http.ResponseWriter, status int, err error) {
	body := map[string]any{
		"error": map[string]any{
			"type":    "invalid_request_error",
			"message": domain.ErrorMessage(err),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
