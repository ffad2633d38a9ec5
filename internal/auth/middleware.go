package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kuitang/notecase/internal/obs"
)

type contextKey struct{}

// ContextWithUser returns a context carrying the authenticated user.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	ctx = context.WithValue(ctx, contextKey{}, user)
	return obs.WithUserID(ctx, user.UUID)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextKey{}).(*User)
	return user, ok && user != nil
}

// Middleware resolves bearer access tokens to users.
type Middleware struct {
	tokens *TokenService
	users  *UserService
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(tokens *TokenService, users *UserService) *Middleware {
	return &Middleware{tokens: tokens, users: users}
}

// RequireAuth rejects requests without a valid access token with 401.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			writeUnauthorized(w, "authentication required")
			return
		}
		user, err := m.resolve(r.Context(), raw)
		if err != nil {
			obs.From(r.Context()).Debug("access_token_rejected", "error", err)
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// OptionalAuth attaches the user when a valid access token is present.
// Missing or invalid tokens leave the request anonymous.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		user, err := m.resolve(r.Context(), raw)
		if err != nil {
			obs.From(r.Context()).Debug("optional_access_token_ignored", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (m *Middleware) resolve(ctx context.Context, raw string) (*User, error) {
	claims, err := m.tokens.ParseAccessToken(raw)
	if err != nil {
		return nil, err
	}
	return m.users.GetByUUID(ctx, claims.Subject)
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="notecase"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
