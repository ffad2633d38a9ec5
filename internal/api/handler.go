// Package api exposes the notes service as a JSON HTTP API.
package api

import (
	"context"
	"net/http"

	"github.com/kuitang/notecase/internal/auth"
	"github.com/kuitang/notecase/internal/notes"
	"github.com/kuitang/notecase/internal/ratelimit"
)

// DefaultMaxBodyBytes caps request bodies when Config leaves it unset.
const DefaultMaxBodyBytes int64 = 2 << 20

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Config wires the handler to its services.
type Config struct {
	Users        *auth.UserService
	Tokens       *auth.TokenService
	Notes        *notes.Service
	DB           Pinger
	AuthLimiter  *ratelimit.RateLimiter
	APILimiter   *ratelimit.RateLimiter
	MaxBodyBytes int64
	// MCP, when set, is mounted at /mcp behind RequireAuth.
	MCP http.Handler
}

// Handler serves the HTTP API.
type Handler struct {
	users        *auth.UserService
	tokens       *auth.TokenService
	notes        *notes.Service
	db           Pinger
	mw           *auth.Middleware
	authLimiter  *ratelimit.RateLimiter
	apiLimiter   *ratelimit.RateLimiter
	maxBodyBytes int64
	mcp          http.Handler
}

// NewHandler creates the API handler.
func NewHandler(cfg Config) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handler{
		users:        cfg.Users,
		tokens:       cfg.Tokens,
		notes:        cfg.Notes,
		db:           cfg.DB,
		mw:           auth.NewMiddleware(cfg.Tokens, cfg.Users),
		authLimiter:  cfg.AuthLimiter,
		apiLimiter:   cfg.APILimiter,
		maxBodyBytes: maxBody,
		mcp:          cfg.MCP,
	}
}

// RegisterRoutes registers every route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	public := func(fn http.HandlerFunc) http.Handler { return fn }
	authRoute := func(fn http.HandlerFunc) http.Handler {
		return h.limit(h.authLimiter, ratelimit.ClientIP)(fn)
	}
	private := func(fn http.HandlerFunc) http.Handler {
		return h.mw.RequireAuth(h.limit(h.apiLimiter, userKey)(fn))
	}
	optional := func(fn http.HandlerFunc) http.Handler {
		return h.mw.OptionalAuth(h.limit(h.apiLimiter, optionalKey)(fn))
	}

	mux.Handle("GET /healthz", public(h.Health))

	mux.Handle("POST /auth/register", authRoute(h.Register))
	mux.Handle("POST /auth/login", authRoute(h.Login))
	mux.Handle("POST /auth/refresh", authRoute(h.Refresh))
	mux.Handle("POST /auth/logout", authRoute(h.Logout))
	mux.Handle("POST /auth/verify-email", authRoute(h.VerifyEmail))
	mux.Handle("POST /auth/password-reset", authRoute(h.RequestPasswordReset))
	mux.Handle("POST /auth/password-reset/confirm", authRoute(h.ConfirmPasswordReset))
	mux.Handle("GET /me", private(h.Me))

	mux.Handle("GET /notes", private(h.ListNotes))
	mux.Handle("POST /notes", private(h.CreateNote))
	mux.Handle("GET /notes/shared", private(h.ListSharedNotes))
	mux.Handle("POST /notes/preview", private(h.PreviewMarkdown))
	mux.Handle("GET /notes/{id}", private(h.GetNote))
	mux.Handle("PATCH /notes/{id}", private(h.UpdateNote))
	mux.Handle("DELETE /notes/{id}", private(h.DeleteNote))
	mux.Handle("POST /notes/{id}/regenerate-link", private(h.RegenerateLink))

	mux.Handle("GET /notes/{id}/collaborators", private(h.ListCollaborators))
	mux.Handle("POST /notes/{id}/collaborators", private(h.AddCollaborator))
	mux.Handle("DELETE /notes/{id}/collaborators", private(h.RemoveCollaboratorByEmail))
	mux.Handle("DELETE /notes/{id}/collaborators/{collaboratorID}", private(h.RemoveCollaborator))

	mux.Handle("GET /public/notes/{token}", optional(h.GetPublicNote))
	mux.Handle("GET /n/{token}", optional(h.PreviewNote))
	mux.Handle("GET /u/{uuid}/notes", optional(h.ListPublicNotes))

	if h.mcp != nil {
		mux.Handle("/mcp", h.mw.RequireAuth(h.limit(h.apiLimiter, userKey)(h.mcp)))
	}
}

func (h *Handler) limit(limiter *ratelimit.RateLimiter, key ratelimit.KeyFunc) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(limiter, key)
}

func userKey(r *http.Request) string {
	if u, ok := auth.UserFromContext(r.Context()); ok {
		return "user:" + u.UUID
	}
	return ""
}

// optionalKey limits signed-in callers per user and everyone else per IP.
func optionalKey(r *http.Request) string {
	if key := userKey(r); key != "" {
		return key
	}
	return "ip:" + ratelimit.ClientIP(r)
}

// requester converts the authenticated user, if any, for the notes service.
func requester(r *http.Request) *notes.Requester {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil
	}
	return &notes.Requester{UserID: u.ID, Email: u.Email}
}

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
