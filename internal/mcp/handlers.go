package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/notecase/internal/errs"
	"github.com/kuitang/notecase/internal/logutil"
	"github.com/kuitang/notecase/internal/notes"
	"github.com/kuitang/notecase/internal/obs"
)

const maxLoggedArgs = 512

// Handler runs tool calls against the notes service as one requester.
type Handler struct {
	notes     *notes.Service
	requester *notes.Requester
}

// NewHandler creates a tool handler acting as requester.
func NewHandler(svc *notes.Service, requester *notes.Requester) *Handler {
	return &Handler{notes: svc, requester: requester}
}

func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, name, args)
		return result, nil, err
	}
}

type listArgs struct {
	Query      string `json:"query"`
	Visibility string `json:"visibility"`
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
}

func (a listArgs) filter() notes.ListFilter {
	q := notes.ParseQuery(a.Query)
	f := notes.ListFilter{Labels: q.Labels, Text: q.Text, Page: a.Page, PerPage: a.PerPage}
	if a.Visibility != "" {
		v := notes.Visibility(a.Visibility)
		f.Visibility = &v
	}
	return f
}

type noteIDArgs struct {
	ID int64 `json:"id"`
}

type updateArgs struct {
	ID int64 `json:"id"`
	notes.UpdateNoteParams
}

type shareArgs struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// HandleToolCall runs one tool. Domain failures come back as error
// results, never as protocol errors.
func (h *Handler) HandleToolCall(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if logger := obs.From(ctx); logger.Enabled(ctx, slog.LevelDebug) {
		raw, _ := json.Marshal(args)
		logger.Debug("mcp_tool_call", "tool", name,
			"args", logutil.TruncateForLog(logutil.RedactJSONForLog(raw), maxLoggedArgs))
	}
	result, err := h.call(ctx, name, args)
	if err != nil {
		return toolError(ctx, name, err), nil
	}
	return result, nil
}

func (h *Handler) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	switch name {
	case "note_list":
		var a listArgs
		if err := decodeToolArgs(args, &a); err != nil {
			return nil, err
		}
		return jsonResult(h.notes.ListOwned(ctx, h.requester, a.filter()))
	case "note_shared":
		var a listArgs
		if err := decodeToolArgs(args, &a); err != nil {
			return nil, err
		}
		a.Visibility = ""
		return jsonResult(h.notes.ListShared(ctx, h.requester, a.filter()))
	case "note_view":
		var a noteIDArgs
		if err := decodeToolArgs(args, &a); err != nil {
			return nil, err
		}
		return jsonResult(h.notes.Get(ctx, a.ID, h.requester))
	case "note_create":
		var a notes.CreateNoteParams
		if err := decodeToolArgs(args, &a); err != nil {
			return nil, err
		}
		return jsonResult(h.notes.Create(ctx, h.requester, a))
	case "note_update":
		var a updateArgs
		if err := decodeToolArgs(args, &a); err != nil {
			return nil, err
		}
		return jsonResult(h.notes.Update(ctx, a.ID, h.requester, a.UpdateNoteParams))
	case "note_delete":
		var a noteIDArgs
		if err := decodeToolArgs(args, &a); err != nil {
			return nil, err
		}
		if err := h.notes.Delete(ctx, a.ID, h.requester); err != nil {
			return nil, err
		}
		return textResult(fmt.Sprintf("Note %d deleted.", a.ID)), nil
	case "note_collaborators":
		var a noteIDArgs
		if err := decodeToolArgs(args, &a); err != nil {
			return nil, err
		}
		return jsonResult(h.notes.ListCollaborators(ctx, a.ID, h.requester))
	case "note_share":
		var a shareArgs
		if err := decodeToolArgs(args, &a); err != nil {
			return nil, err
		}
		return jsonResult(h.notes.AddCollaborator(ctx, a.ID, a.Email, h.requester))
	case "note_unshare":
		var a shareArgs
		if err := decodeToolArgs(args, &a); err != nil {
			return nil, err
		}
		if err := h.notes.RemoveCollaboratorByEmail(ctx, a.ID, a.Email, h.requester); err != nil {
			return nil, err
		}
		return textResult(fmt.Sprintf("Removed %s from note %d.", a.Email, a.ID)), nil
	default:
		return nil, errs.New(errs.NotFound, "unknown tool: "+name)
	}
}

// decodeToolArgs decodes tool arguments into dst, rejecting unknown
// fields. A nil map decodes as an empty object.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid tool arguments", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid tool arguments: "+err.Error(), err)
	}
	return nil
}

// toolErrorPayload is the JSON text of an error result.
type toolErrorPayload struct {
	Error  string            `json:"error"`
	Code   errs.Code         `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func toolError(ctx context.Context, name string, err error) *mcp.CallToolResult {
	code := errs.CodeOf(err)
	if code == errs.Internal {
		obs.From(ctx).Error("mcp_tool_failed", "tool", name, "error", err)
	}
	result := textResult(marshalToolJSON(toolErrorPayload{
		Error:  errs.MessageOf(err),
		Code:   code,
		Fields: errs.FieldsOf(err),
	}))
	result.IsError = true
	return result
}

func jsonResult[T any](v T, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return nil, err
	}
	return textResult(marshalToolJSON(v)), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}
