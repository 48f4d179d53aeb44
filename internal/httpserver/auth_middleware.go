package httpserver

import (
	"context"
	"net/http"
	"strings"

	"marketchat/internal/security"
)

type contextKey string

const callerContextKey contextKey = "callerID"

// WithCaller returns a new context carrying the authenticated caller's
// user ID.
func WithCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerContextKey, userID)
}

// CallerID extracts the authenticated user ID from the request context.
func CallerID(r *http.Request) string {
	if v := r.Context().Value(callerContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// AuthMiddleware validates the Bearer token and attaches the caller's
// user ID to the context. Identity itself is owned by the external
// identity service; this core only needs the opaque subject.
func AuthMiddleware(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			userID, err := tokens.Subject(tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), userID)))
		})
	}
}
