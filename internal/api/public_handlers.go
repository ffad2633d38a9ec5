package api

import (
	"net/http"
)

// GetPublicNote handles GET /public/notes/{token}. Only public notes
// resolve, whoever asks.
func (h *Handler) GetPublicNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.notes.GetPublic(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// PreviewNote handles GET /n/{token}, the share link. Missing and
// forbidden notes answer with the same body and differ only in status.
func (h *Handler) PreviewNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.notes.Preview(r.Context(), r.PathValue("token"), requester(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// ListPublicNotes handles GET /u/{uuid}/notes, a user's public catalog.
func (h *Handler) ListPublicNotes(w http.ResponseWriter, r *http.Request) {
	filter := listFilter(r)
	filter.Visibility = nil
	page, err := h.notes.ListPublicNotes(r.Context(), r.PathValue("uuid"), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
