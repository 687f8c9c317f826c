package middleware

import (
	"net/http"
	"strings"

	"github.com/adrienverge/localstripe/internal/domain"
)

// APIKeyAuth checks that the caller presents a secret test key, either
// as a bearer token or as the username of basic auth. Any well-formed
// sk_test_ key is accepted; this is a double, not a vault.
func APIKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractKey(r)
		if key == "" {
			respondWithError(w, http.StatusUnauthorized,
				domain.Unauthorized("auth", "You did not provide an API key."))
			return
		}
		if !strings.HasPrefix(key, "sk_test_") && !strings.HasPrefix(key, "pk_test_") {
			respondWithError(w, http.StatusUnauthorized,
				domain.Unauthorized("auth", "Invalid API Key provided: "+redactKey(key)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	if user, _, ok := r.BasicAuth(); ok {
		return user
	}
	return ""
}

// redactKey keeps enough of the key to recognize it in logs without
// echoing the whole thing back.
func redactKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + strings.Repeat("*", len(key)-8)
}
