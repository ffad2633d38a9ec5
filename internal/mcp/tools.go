package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

func idProperty() map[string]any {
	return map[string]any{"type": "integer", "description": "The numeric id of the note"}
}

func visibilityProperty(desc string) map[string]any {
	return map[string]any{
		"type":        "string",
		"enum":        []string{"public", "private", "draft"},
		"description": desc,
	}
}

func labelsProperty() map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": "Labels; duplicates differing only in case are merged",
	}
}

func pagingProperties(props map[string]any) map[string]any {
	props["page"] = map[string]any{"type": "integer", "description": "1-based page number (default 1)"}
	props["per_page"] = map[string]any{"type": "integer", "description": "Page size (default 10, max 50)"}
	return props
}

// ToolDefinitions returns the note tools.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        "note_list",
			Description: "List your own notes, newest first. query accepts label:a,b filters (any label matches) and free text matched against title and description.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": pagingProperties(map[string]any{
					"query":      map[string]any{"type": "string", "description": `Search query, e.g. label:work "weekly plan"`},
					"visibility": visibilityProperty("Only list notes with this visibility"),
				}),
			},
		},
		{
			Name:        "note_shared",
			Description: "List notes other users shared with you.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": pagingProperties(map[string]any{
					"query": map[string]any{"type": "string", "description": "Search query, same syntax as note_list"},
				}),
			},
		},
		{
			Name:        "note_view",
			Description: "Read a note you own or collaborate on.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": idProperty()},
				"required":   []string{"id"},
			},
		},
		{
			Name:        "note_create",
			Description: "Create a note. Visibility defaults to private. Returns the note including its url_token; the share link is /n/{url_token}.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":       map[string]any{"type": "string", "description": "Title (required, at most 255 characters)"},
					"description": map[string]any{"type": "string", "description": "Markdown body (required)"},
					"labels":      labelsProperty(),
					"visibility":  visibilityProperty("public, private or draft"),
				},
				"required": []string{"title", "description"},
			},
		},
		{
			Name:        "note_update",
			Description: "Change a note. Only the fields you pass are replaced; labels replaces the whole label list.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":          idProperty(),
					"title":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"labels":      labelsProperty(),
					"visibility":  visibilityProperty("New visibility"),
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "note_delete",
			Description: "Delete a note you own. Collaborators cannot delete.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": idProperty()},
				"required":   []string{"id"},
			},
		},
		{
			Name:        "note_collaborators",
			Description: "List the collaborators of a note.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": idProperty()},
				"required":   []string{"id"},
			},
		},
		{
			Name:        "note_share",
			Description: "Give an email address view and edit access to a note. The address does not need an account yet.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":    idProperty(),
					"email": map[string]any{"type": "string", "description": "Collaborator email address"},
				},
				"required": []string{"id", "email"},
			},
		},
		{
			Name:        "note_unshare",
			Description: "Remove a collaborator by email. Collaborators may only remove themselves.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":    idProperty(),
					"email": map[string]any{"type": "string", "description": "Collaborator email address"},
				},
				"required": []string{"id", "email"},
			},
		},
	}
}
