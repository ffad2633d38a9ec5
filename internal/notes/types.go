package notes

import (
	"time"
)

// Visibility is the sharing state of a note.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityDraft   Visibility = "draft"
)

// DefaultVisibility applies when create omits visibility.
const DefaultVisibility = VisibilityPrivate

// Valid reports whether v is one of the three known states.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityDraft:
		return true
	}
	return false
}

// Note is a markdown note with its owner and share token.
type Note struct {
	ID          int64      `json:"id"`
	OwnerID     int64      `json:"-"`
	OwnerUUID   string     `json:"owner_uuid"`
	URLToken    string     `json:"url_token"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Labels      []string   `json:"labels"`
	Visibility  Visibility `json:"visibility"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Collaborator is an email granted view and edit access to a note. UserID
// is set once the email belongs to an account.
type Collaborator struct {
	ID        int64     `json:"id"`
	NoteID    int64     `json:"note_id"`
	Email     string    `json:"email"`
	UserID    *int64    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Requester identifies the authenticated caller of a service method. A nil
// *Requester is an anonymous caller.
type Requester struct {
	UserID int64
	Email  string
}

// CreateNoteParams contains parameters for creating a note.
type CreateNoteParams struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Labels      []string   `json:"labels"`
	Visibility  Visibility `json:"visibility"`
}

// UpdateNoteParams holds a partial update. Nil fields are left unchanged.
type UpdateNoteParams struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Labels      *[]string   `json:"labels,omitempty"`
	Visibility  *Visibility `json:"visibility,omitempty"`
}

// ListFilter narrows owned-note and catalog listings. Labels match with OR
// semantics; Text matches title or description.
type ListFilter struct {
	Visibility *Visibility
	Labels     []string
	Text       *string
	Page       int
	PerPage    int
}

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// CatalogItem is a public note as shown in an owner's catalog.
type CatalogItem struct {
	URLToken  string    `json:"url_token"`
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt"`
	Labels    []string  `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicNote is a note resolved through its share link, with rendered HTML.
type PublicNote struct {
	Note
	HTML string `json:"html"`
}
