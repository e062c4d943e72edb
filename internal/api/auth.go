package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyAuth requires key as either "Authorization: Bearer <key>" or
// "x-api-key: <key>". An empty key disables the check.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validKey(r, key) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validKey(r *http.Request, key string) bool {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(key)) == 1
	}
	if k := r.Header.Get("x-api-key"); k != "" {
		return subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1
	}
	return false
}
