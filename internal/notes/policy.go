package notes

import (
	"github.com/kuitang/notecase/internal/errs"
)

// Role is the requester's relation to a note.
type Role int

const (
	RoleAnonymous Role = iota
	RoleStranger
	RoleCollaborator
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleCollaborator:
		return "collaborator"
	case RoleStranger:
		return "stranger"
	default:
		return "anonymous"
	}
}

// Capability is an action on a note.
type Capability int

const (
	CapView Capability = iota
	CapEdit
	CapDelete
)

// Classify derives the requester's role. isCollaborator must come from a
// collaborator row linked to the requester's user id.
func Classify(ownerID int64, requester *Requester, isCollaborator bool) Role {
	switch {
	case requester == nil:
		return RoleAnonymous
	case requester.UserID == ownerID:
		return RoleOwner
	case isCollaborator:
		return RoleCollaborator
	default:
		return RoleStranger
	}
}

// grant says whether a role holds a capability. publicOnly grants apply
// only to notes whose visibility is public.
type grant struct {
	always     bool
	publicOnly bool
}

var capabilities = map[Role]map[Capability]grant{
	RoleOwner: {
		CapView:   {always: true},
		CapEdit:   {always: true},
		CapDelete: {always: true},
	},
	RoleCollaborator: {
		CapView: {always: true},
		CapEdit: {always: true},
	},
	RoleStranger: {
		CapView: {publicOnly: true},
	},
	RoleAnonymous: {
		CapView: {publicOnly: true},
	},
}

// Can reports whether role may perform capability on a note with the given
// visibility.
func Can(role Role, capability Capability, visibility Visibility) bool {
	g := capabilities[role][capability]
	return g.always || (g.publicOnly && visibility == VisibilityPublic)
}

// UnavailableMessage is the body of every share-link failure, whether the
// note is missing or forbidden.
const UnavailableMessage = "Note unavailable or invalid link"

// unavailable is the only constructor of share-link failures, so the 404
// and 403 bodies cannot drift apart.
func unavailable(code errs.Code) error {
	return errs.New(code, UnavailableMessage)
}

// Errors
var (
	ErrNoteNotFound  = errs.New(errs.NotFound, "note not found")
	ErrAccessDenied  = errs.New(errs.PermissionDenied, "you do not have access to this note")
	ErrOwnerOnly     = errs.New(errs.PermissionDenied, "only the owner can delete this note")
	ErrUserNotFound  = errs.New(errs.NotFound, "user not found")
	ErrUnavailable   = unavailable(errs.NotFound)
	ErrUnavailableTo = unavailable(errs.PermissionDenied)
)

// ResolvePublicAccess decides what a share link shows. note is nil when
// the token matched nothing. The returned error is ErrUnavailable (404) or
// ErrUnavailableTo (403); both carry UnavailableMessage.
func ResolvePublicAccess(note *Note, role Role) error {
	if note == nil {
		return ErrUnavailable
	}
	switch note.Visibility {
	case VisibilityPublic:
		return nil
	case VisibilityPrivate:
		switch role {
		case RoleOwner, RoleCollaborator:
			return nil
		case RoleStranger:
			return ErrUnavailableTo
		}
	}
	return ErrUnavailable
}
