// Package mcp serves the notes service as Model Context Protocol tools over
// the Streamable HTTP transport.
package mcp

import (
	"encoding/json"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/notecase/internal/auth"
	"github.com/kuitang/notecase/internal/notes"
	"github.com/kuitang/notecase/internal/obs"
)

const (
	serverName    = "notecase"
	serverVersion = "1.0.0"
)

// JSON-RPC error codes used by the HTTP fallback responses.
const (
	ErrorCodeInvalidRequest = -32600
	ErrorCodeInternalError  = -32603
)

// NewServer builds an MCP server whose tools act as requester.
func NewServer(svc *notes.Service, requester *notes.Requester) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	handler := NewHandler(svc, requester)
	for _, tool := range ToolDefinitions() {
		mcp.AddTool(server, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(server)
	return server
}

// HTTPHandler serves /mcp. Every request gets a fresh server bound to the
// user that auth.Middleware attached to the request context.
type HTTPHandler struct {
	delegate http.Handler
}

// NewHTTPHandler creates the /mcp handler. It must sit behind
// auth.Middleware.RequireAuth.
func NewHTTPHandler(svc *notes.Service) *HTTPHandler {
	delegate := mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return NewServer(svc, requesterFrom(r))
		},
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			// Each request carries its own bearer token, so no session
			// state is kept between requests.
			Stateless: true,
		},
	)
	return &HTTPHandler{delegate: delegate}
}

func requesterFrom(r *http.Request) *notes.Requester {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil
	}
	return &notes.Requester{UserID: u.ID, Email: u.Email}
}

// ServeHTTP delegates to the SDK transport. A panic or a delegate that
// writes nothing becomes a JSON-RPC internal error with status 500.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := obs.From(r.Context())
	rw, rec := obs.NewResponseRecorder(w)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("mcp_panic", "panic", p, "method", r.Method)
			if !rec.WroteHeader() {
				writeRPCError(rw, http.StatusInternalServerError, ErrorCodeInternalError, "Internal server error")
			}
		}
	}()

	h.delegate.ServeHTTP(rw, r)

	if !rec.WroteHeader() {
		logger.Error("mcp_no_response", "method", r.Method)
		writeRPCError(rw, http.StatusInternalServerError, ErrorCodeInternalError, "MCP handler returned without writing response")
		return
	}
	if rec.StatusCode() >= http.StatusBadRequest {
		logger.Warn("mcp_request_failed", "method", r.Method, "status", rec.StatusCode())
	}
}

func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
