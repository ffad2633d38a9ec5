package api

import (
	"net/http"
	"strings"

	"github.com/kuitang/notecase/internal/notes"
)

type addCollaboratorRequest struct {
	Email string `json:"email"`
}

type previewRequest struct {
	Description string `json:"description"`
}

// listFilter reads q, label, visibility, page and per_page. Labels from q
// ("label:a,b") and repeated label parameters are merged.
func listFilter(r *http.Request) notes.ListFilter {
	values := r.URL.Query()
	parsed := notes.ParseQuery(values.Get("q"))
	filter := notes.ListFilter{
		Labels:  parsed.Labels,
		Text:    parsed.Text,
		Page:    queryInt(r, "page"),
		PerPage: queryInt(r, "per_page"),
	}
	for _, l := range values["label"] {
		for _, piece := range strings.Split(l, ",") {
			if piece = strings.TrimSpace(piece); piece != "" {
				filter.Labels = append(filter.Labels, piece)
			}
		}
	}
	if v := strings.TrimSpace(values.Get("visibility")); v != "" {
		vis := notes.Visibility(v)
		filter.Visibility = &vis
	}
	return filter
}

// ListNotes handles GET /notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	page, err := h.notes.ListOwned(r.Context(), requester(r), listFilter(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListSharedNotes handles GET /notes/shared.
func (h *Handler) ListSharedNotes(w http.ResponseWriter, r *http.Request) {
	page, err := h.notes.ListShared(r.Context(), requester(r), listFilter(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreateNote handles POST /notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var params notes.CreateNoteParams
	if !h.decodeJSON(w, r, &params) {
		return
	}
	note, err := h.notes.Create(r.Context(), requester(r), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// GetNote handles GET /notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	note, err := h.notes.Get(r.Context(), id, requester(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// UpdateNote handles PATCH /notes/{id}.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var params notes.UpdateNoteParams
	if !h.decodeJSON(w, r, &params) {
		return
	}
	note, err := h.notes.Update(r.Context(), id, requester(r), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /notes/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.notes.Delete(r.Context(), id, requester(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateLink handles POST /notes/{id}/regenerate-link.
func (h *Handler) RegenerateLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	note, err := h.notes.RegenerateLink(r.Context(), id, requester(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// PreviewMarkdown handles POST /notes/preview.
func (h *Handler) PreviewMarkdown(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"html": notes.RenderMarkdown(req.Description)})
}

// ListCollaborators handles GET /notes/{id}/collaborators.
func (h *Handler) ListCollaborators(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rows, err := h.notes.ListCollaborators(r.Context(), id, requester(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": rows})
}

// AddCollaborator handles POST /notes/{id}/collaborators.
func (h *Handler) AddCollaborator(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req addCollaboratorRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	c, err := h.notes.AddCollaborator(r.Context(), id, req.Email, requester(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// RemoveCollaborator handles DELETE /notes/{id}/collaborators/{collaboratorID}.
func (h *Handler) RemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	collaboratorID, ok := pathID(w, r, "collaboratorID")
	if !ok {
		return
	}
	if err := h.notes.RemoveCollaborator(r.Context(), id, collaboratorID, requester(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveCollaboratorByEmail handles DELETE /notes/{id}/collaborators?email=.
func (h *Handler) RemoveCollaboratorByEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.notes.RemoveCollaboratorByEmail(r.Context(), id, r.URL.Query().Get("email"), requester(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
