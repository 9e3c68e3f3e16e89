package middleware

import (
	"context"
	"net/http"
	"strings"
)

// SessionValidator checks a bearer token and returns the wallet address it
// authenticates.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

type contextKey string

// addressKey carries the authenticated wallet address through the request
// context.
const addressKey contextKey = "wallet_address"

// Address returns the authenticated wallet address placed in the context by
// RequireSession, or "" for unauthenticated requests.
func Address(ctx context.Context) string {
	addr, _ := ctx.Value(addressKey).(string)
	return addr
}

// WithAddress returns a context carrying the given wallet address. Exposed
// for handler tests.
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, addressKey, address)
}

// RequireSession returns middleware that validates the Authorization bearer
// token against the session service and stores the authenticated wallet
// address in the request context. Requests without a valid session get 401.
func RequireSession(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthorized(w, "missing session token")
				return
			}

			address, err := sessions.Validate(r.Context(), token)
			if err != nil {
				writeUnauthorized(w, "invalid or expired session")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAddress(r.Context(), address)))
		})
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
