package middleware

import (
	"net/http"

	"funding-arb/pkg/crypto"
)

// APIKey protects the control surface with a single bcrypt-hashed
// operator key, supplied via X-API-Key. If keyHash is empty the check
// is disabled (local/dev use); production deployments must set
// FUNDING_ARB_API_KEY_HASH.
func APIKey(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" || !crypto.CheckPasswordMatch(key, keyHash) {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
