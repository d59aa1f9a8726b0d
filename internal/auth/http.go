// ABOUTME: HTTP middleware for JWT authentication on chat endpoints
// ABOUTME: Reads the token from the Authorization header or the token cookie

package auth

import (
	"net/http"
	"strings"
)

// TokenCookie is the cookie consulted when no Authorization header is sent.
// Browsers' EventSource cannot set headers, so streams rely on it.
const TokenCookie = "token"

// extractToken returns the bearer token or the token cookie.
// Returns the token and an error message (empty if successful).
func extractToken(r *http.Request) (string, string) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", "invalid authorization header format"
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return "", "empty token"
		}
		return token, ""
	}

	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value, ""
	}
	return "", "missing credentials"
}

// HTTPAuthMiddleware creates an HTTP middleware that verifies the caller's token
// and attaches the resulting Identity to the request context. Requests without
// valid credentials are rejected before reaching the handler.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractToken(r)
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":false,"error":"` + msg + `"}`))
}
