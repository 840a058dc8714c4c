package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pliu/securedm/internal/auth"
)

type contextKey string

const sessionKey contextKey = "session"

// TokenParser validates a bearer token.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// AuthMiddleware accepts "Authorization: Bearer <jwt>", or a token query
// parameter for websocket upgrades where browsers cannot set headers.
func AuthMiddleware(sessions TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}
			claims, err := sessions.Parse(token)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), sessionKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// Session returns the claims AuthMiddleware stored on ctx.
func Session(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(sessionKey).(*auth.Claims)
	return claims, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
