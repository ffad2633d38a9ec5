package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const notesWorkflowPromptName = "notes_workflow"

const notesWorkflowText = "Notes are markdown documents with a title, labels and a visibility of private, public or draft. " +
	"Use note_list to find notes; its query accepts label:a,b filters and free text. " +
	"Read a note with note_view before changing it with note_update. " +
	"Public notes are readable by anyone with the share link; private notes only by the owner and collaborators added with note_share. " +
	"Only the owner can delete a note."

func registerPrompts(server *mcp.Server) {
	server.AddPrompt(&mcp.Prompt{
		Name:        notesWorkflowPromptName,
		Title:       "Notes workflow",
		Description: "How notes, labels, visibility and sharing fit together.",
	}, func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: "How notes, labels, visibility and sharing fit together.",
			Messages: []*mcp.PromptMessage{
				{Role: mcp.Role("user"), Content: &mcp.TextContent{Text: notesWorkflowText}},
			},
		}, nil
	})
}
