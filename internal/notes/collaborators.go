package notes

import (
	"context"
	"errors"

	"github.com/kuitang/notecase/internal/auth"
	"github.com/kuitang/notecase/internal/email"
	"github.com/kuitang/notecase/internal/errs"
	"github.com/kuitang/notecase/internal/logutil"
	"github.com/kuitang/notecase/internal/obs"
	"github.com/kuitang/notecase/internal/urlutil"
)

// Errors
var (
	ErrCollaboratorExists   = errs.New(errs.Conflict, "this email is already a collaborator")
	ErrCollaboratorNotFound = errs.New(errs.NotFound, "collaborator not found")
	ErrOwnerNotRemovable    = errs.New(errs.PermissionDenied, "the owner cannot be removed from their note")
	ErrRemoveOthers         = errs.New(errs.PermissionDenied, "collaborators can only remove themselves")
	ErrOwnerAsCollaborator  = errs.Validation(map[string]string{"email": "the owner cannot be added as a collaborator"})
)

// AddCollaborator shares a note with email. The owner and any collaborator
// may invite. The email is linked to an existing account when there is one;
// otherwise the row waits for that address to register.
func (s *Service) AddCollaborator(ctx context.Context, noteID int64, emailAddr string, actor *Requester) (*Collaborator, error) {
	normalized, err := auth.NormalizeEmail(emailAddr)
	if err != nil {
		return nil, err
	}

	var added *Collaborator
	var note *Note
	err = s.store.WithTx(ctx, func(tx *Store) error {
		n, role, err := access(ctx, tx, noteID, actor)
		if err != nil {
			return err
		}
		if !Can(role, CapEdit, n.Visibility) {
			return ErrAccessDenied
		}
		note = n

		owner, err := tx.AccountByID(ctx, note.OwnerID)
		if err != nil {
			return err
		}
		if owner != nil && owner.Email == normalized {
			return ErrOwnerAsCollaborator
		}

		existing, err := tx.GetCollaboratorByEmail(ctx, note.ID, normalized)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrCollaboratorExists
		}

		c := &Collaborator{NoteID: note.ID, Email: normalized, CreatedAt: s.now()}
		linked, err := tx.AccountByEmail(ctx, normalized)
		if err != nil {
			return err
		}
		if linked != nil {
			c.UserID = &linked.ID
		}
		if err := tx.InsertCollaborator(ctx, c); err != nil {
			if errors.Is(err, errDuplicateCollaborator) {
				return ErrCollaboratorExists
			}
			return err
		}
		added = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	obs.From(ctx).Info("collaborator_added", "note_id", note.ID, "collaborator_id", added.ID,
		"email", logutil.MaskEmail(added.Email), "linked", added.UserID != nil)
	s.sendInvite(ctx, note, added, actor)
	return added, nil
}

func (s *Service) sendInvite(ctx context.Context, note *Note, c *Collaborator, actor *Requester) {
	if s.emails == nil {
		return
	}
	link := urlutil.ShareLink(s.baseURL, note.URLToken)
	if c.UserID == nil {
		link = urlutil.BuildAbsolute(s.baseURL, "/register")
	}
	err := s.emails.Send(c.Email, email.TemplateCollaboratorInvite, email.CollaboratorInviteData{
		InviterEmail: actor.Email,
		NoteTitle:    note.Title,
		Link:         link,
		HasAccount:   c.UserID != nil,
	})
	if err != nil {
		obs.From(ctx).Warn("collaborator_invite_failed", "note_id", note.ID, "collaborator_id", c.ID, "error", err)
	}
}

// RemoveCollaborator deletes the collaborator row with id from the note.
func (s *Service) RemoveCollaborator(ctx context.Context, noteID, collaboratorID int64, actor *Requester) error {
	return s.removeCollaborator(ctx, noteID, actor, func(tx *Store, _ *Note) (*Collaborator, error) {
		return tx.GetCollaborator(ctx, noteID, collaboratorID)
	})
}

// RemoveCollaboratorByEmail deletes the collaborator row for email. Naming
// the owner's email is rejected like removing the owner's row.
func (s *Service) RemoveCollaboratorByEmail(ctx context.Context, noteID int64, emailAddr string, actor *Requester) error {
	normalized, err := auth.NormalizeEmail(emailAddr)
	if err != nil {
		return err
	}
	return s.removeCollaborator(ctx, noteID, actor, func(tx *Store, note *Note) (*Collaborator, error) {
		owner, err := tx.AccountByID(ctx, note.OwnerID)
		if err != nil {
			return nil, err
		}
		if owner != nil && owner.Email == normalized {
			return nil, ErrOwnerNotRemovable
		}
		return tx.GetCollaboratorByEmail(ctx, noteID, normalized)
	})
}

// removeCollaborator checks, in order: the actor belongs to the note, the
// row exists, the row is not the owner's, and a collaborator actor is
// removing their own row.
func (s *Service) removeCollaborator(ctx context.Context, noteID int64, actor *Requester, lookup func(*Store, *Note) (*Collaborator, error)) error {
	var removed *Collaborator
	err := s.store.WithTx(ctx, func(tx *Store) error {
		note, role, err := access(ctx, tx, noteID, actor)
		if err != nil {
			return err
		}
		if role != RoleOwner && role != RoleCollaborator {
			return ErrAccessDenied
		}

		c, err := lookup(tx, note)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrCollaboratorNotFound
		}
		if c.UserID != nil && *c.UserID == note.OwnerID {
			return ErrOwnerNotRemovable
		}
		if role == RoleCollaborator && (c.UserID == nil || *c.UserID != actor.UserID) {
			return ErrRemoveOthers
		}
		removed = c
		return tx.DeleteCollaborator(ctx, c.ID)
	})
	if err != nil {
		return err
	}
	obs.From(ctx).Info("collaborator_removed", "note_id", noteID, "collaborator_id", removed.ID)
	return nil
}

// ListCollaborators returns the note's collaborator rows to its owner and
// collaborators.
func (s *Service) ListCollaborators(ctx context.Context, noteID int64, requester *Requester) ([]*Collaborator, error) {
	note, role, err := access(ctx, s.store, noteID, requester)
	if err != nil {
		return nil, err
	}
	if role != RoleOwner && role != RoleCollaborator {
		return nil, ErrAccessDenied
	}
	return s.store.ListCollaborators(ctx, note.ID)
}

// LinkPendingInvites attaches email-only collaborator rows to a newly
// registered account.
func (s *Service) LinkPendingInvites(ctx context.Context, userID int64, emailAddr string) (int64, error) {
	normalized, err := auth.NormalizeEmail(emailAddr)
	if err != nil {
		return 0, err
	}
	n, err := s.store.LinkPendingInvites(ctx, userID, normalized)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		obs.From(ctx).Info("pending_invites_linked", "user_id", userID, "count", n)
	}
	return n, nil
}
