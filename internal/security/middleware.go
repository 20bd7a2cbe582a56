package security

import (
	"context"
	"net/http"
	"strings"

	"github.com/MuhammadArhumDev/Raidware/internal/store"
)

// APIKeyVerifier is the subset of store.Store the middleware needs.
type APIKeyVerifier interface {
	VerifyAPIKey(ctx context.Context, keyHash string) (*store.APIKey, error)
}

// AuthMiddleware validates API key authentication on HTTP requests.
type AuthMiddleware struct {
	keys APIKeyVerifier
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(keys APIKeyVerifier) *AuthMiddleware {
	return &AuthMiddleware{keys: keys}
}

// Authenticate reports whether the request carries a valid API key.
func (a *AuthMiddleware) Authenticate(r *http.Request) bool {
	key := extractKey(r)
	if key == "" {
		return false
	}
	apiKey, err := a.keys.VerifyAPIKey(r.Context(), HashAPIKey(key))
	return err == nil && apiKey != nil
}

// Wrap rejects requests without a valid API key before calling next.
// The key is read from "Authorization: Bearer" or the "token" query param.
func (a *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if extractKey(r) == "" {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		if !a.Authenticate(r) {
			http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
