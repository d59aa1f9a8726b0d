// ABOUTME: Tests for the HTTP authentication middleware
// ABOUTME: Covers bearer header, cookie fallback and rejection paths

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/opsdesk/internal/store"
)

func newTestMiddleware(t *testing.T) (*JWTVerifier, http.Handler, **Identity) {
	t.Helper()
	verifier := NewJWTVerifier([]byte("middleware-secret"))
	var seen *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	return verifier, HTTPAuthMiddleware(verifier)(next), &seen
}

func TestHTTPAuthMiddleware_BearerHeader(t *testing.T) {
	verifier, handler, seen := newTestMiddleware(t)
	token, err := verifier.Generate(Identity{ID: 42, Role: store.RoleUser}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, *seen)
	assert.Equal(t, int64(42), (*seen).ID)
	assert.Equal(t, store.RoleUser, (*seen).Role)
}

func TestHTTPAuthMiddleware_CookieFallback(t *testing.T) {
	verifier, handler, seen := newTestMiddleware(t)
	token, err := verifier.Generate(Identity{ID: 1, Role: store.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/stream?userId=7", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, *seen)
	assert.True(t, (*seen).IsAdmin())
}

func TestHTTPAuthMiddleware_Rejects(t *testing.T) {
	_, handler, seen := newTestMiddleware(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"empty bearer", "Bearer "},
		{"bad token", "Bearer nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"ok":false`)
			assert.Nil(t, *seen)
		})
	}
}

func TestIdentity_Valid(t *testing.T) {
	var nilID *Identity
	assert.False(t, nilID.Valid())
	assert.False(t, (&Identity{ID: 0, Role: store.RoleUser}).Valid())
	assert.False(t, (&Identity{ID: 3, Role: "guest"}).Valid())
	assert.True(t, (&Identity{ID: 3, Role: store.RoleAdmin}).Valid())
}
