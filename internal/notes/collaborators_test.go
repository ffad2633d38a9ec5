package notes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/notecase/internal/email"
	"github.com/kuitang/notecase/internal/errs"
)

func TestAddCollaborator_LinksExistingAccount(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "owner@example.com")
	friend := f.newUser(t, "friend@example.com")
	n := f.newNote(t, owner, VisibilityPrivate)

	c, err := f.svc.AddCollaborator(ctx, n.ID, "  FRIEND@example.com", owner)
	require.NoError(t, err)
	require.Equal(t, "friend@example.com", c.Email)
	require.NotNil(t, c.UserID)
	require.Equal(t, friend.UserID, *c.UserID)

	sent := f.emails.LastEmail()
	require.Equal(t, email.TemplateCollaboratorInvite, sent.Template)
	data := sent.Data.(email.CollaboratorInviteData)
	require.True(t, data.HasAccount)
	require.Equal(t, "https://notes.test/n/"+n.URLToken, data.Link)
	require.Equal(t, owner.Email, data.InviterEmail)
}

func TestAddCollaborator_DuplicateIsConflict(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPrivate)

	_, err := f.svc.AddCollaborator(ctx, n.ID, "pending@example.com", owner)
	require.NoError(t, err)
	_, err = f.svc.AddCollaborator(ctx, n.ID, "Pending@Example.com", owner)
	require.ErrorIs(t, err, ErrCollaboratorExists)
	require.Equal(t, errs.Conflict, errs.CodeOf(err))
}

func TestStore_InsertCollaboratorUniqueBackstop(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPrivate)

	now := f.clock.Now()
	require.NoError(t, f.store.InsertCollaborator(ctx, &Collaborator{NoteID: n.ID, Email: "race@example.com", CreatedAt: now}))
	err := f.store.InsertCollaborator(ctx, &Collaborator{NoteID: n.ID, Email: "race@example.com", CreatedAt: now})
	require.ErrorIs(t, err, errDuplicateCollaborator)
}

func TestAddCollaborator_Rules(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "boss@example.com")
	collab := f.newUser(t, "")
	stranger := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPublic)
	f.share(t, n, owner, collab)

	_, err := f.svc.AddCollaborator(ctx, n.ID, "Boss@example.com", owner)
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	require.Contains(t, errs.FieldsOf(err), "email")

	_, err = f.svc.AddCollaborator(ctx, n.ID, "not an email", owner)
	require.Contains(t, errs.FieldsOf(err), "email")

	_, err = f.svc.AddCollaborator(ctx, n.ID, "invited-by-collab@example.com", collab)
	require.NoError(t, err, "any collaborator may invite")

	_, err = f.svc.AddCollaborator(ctx, n.ID, "x@example.com", stranger)
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.AddCollaborator(ctx, 424242, "x@example.com", owner)
	require.ErrorIs(t, err, ErrNoteNotFound)
}

func TestAddCollaborator_InviteFailureIsNotFatal(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPrivate)
	f.emails.FailWith = errs.New(errs.Unavailable, "mail down")

	c, err := f.svc.AddCollaborator(ctx, n.ID, "nobody-yet@example.com", owner)
	require.NoError(t, err)
	require.Nil(t, c.UserID)
	data := f.emails.LastEmail().Data.(email.CollaboratorInviteData)
	require.False(t, data.HasAccount)
	require.Equal(t, "https://notes.test/register", data.Link)
}

func TestRemoveCollaborator_Rules(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "owner2@example.com")
	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")
	stranger := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPrivate)
	f.share(t, n, owner, alice)
	f.share(t, n, owner, bob)

	rows, err := f.svc.ListCollaborators(ctx, n.ID, alice)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	bobRow := rows[1]
	require.Equal(t, "bob@example.com", bobRow.Email)

	require.ErrorIs(t, f.svc.RemoveCollaborator(ctx, n.ID, bobRow.ID, alice), ErrRemoveOthers)
	require.ErrorIs(t, f.svc.RemoveCollaborator(ctx, n.ID, bobRow.ID, stranger), ErrAccessDenied)
	require.ErrorIs(t, f.svc.RemoveCollaborator(ctx, n.ID, 987654, owner), ErrCollaboratorNotFound)
	require.ErrorIs(t, f.svc.RemoveCollaboratorByEmail(ctx, n.ID, "owner2@example.com", owner), ErrOwnerNotRemovable)
	require.ErrorIs(t, f.svc.RemoveCollaboratorByEmail(ctx, n.ID, "OWNER2@example.com", alice), ErrOwnerNotRemovable)

	require.NoError(t, f.svc.RemoveCollaboratorByEmail(ctx, n.ID, "Alice@example.com", alice), "self removal")
	_, err = f.svc.Get(ctx, n.ID, alice)
	require.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, f.svc.RemoveCollaborator(ctx, n.ID, bobRow.ID, owner))
	rows, err = f.svc.ListCollaborators(ctx, n.ID, owner)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRemoveCollaborator_OwnerLinkedRowRejected(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPrivate)

	// Rows linking the owner cannot be created through the service; insert
	// one directly to check the removal guard.
	ownerID := owner.UserID
	row := &Collaborator{NoteID: n.ID, Email: "alias@example.com", UserID: &ownerID, CreatedAt: f.clock.Now()}
	require.NoError(t, f.store.InsertCollaborator(ctx, row))

	require.ErrorIs(t, f.svc.RemoveCollaborator(ctx, n.ID, row.ID, owner), ErrOwnerNotRemovable)
}

func TestListCollaborators_Permissions(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	stranger := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPublic)

	_, err := f.svc.ListCollaborators(ctx, n.ID, stranger)
	require.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.svc.ListCollaborators(ctx, n.ID, nil)
	require.ErrorIs(t, err, ErrAccessDenied)
}

func TestLinkPendingInvites(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPrivate)

	_, err := f.svc.AddCollaborator(ctx, n.ID, "Later@Example.com", owner)
	require.NoError(t, err)

	later := f.newUser(t, "later@example.com")
	_, err = f.svc.Get(ctx, n.ID, later)
	require.ErrorIs(t, err, ErrAccessDenied, "not linked yet")

	linked, err := f.svc.LinkPendingInvites(ctx, later.UserID, later.Email)
	require.NoError(t, err)
	require.Equal(t, int64(1), linked)

	_, err = f.svc.Get(ctx, n.ID, later)
	require.NoError(t, err)

	linked, err = f.svc.LinkPendingInvites(ctx, later.UserID, later.Email)
	require.NoError(t, err)
	require.Zero(t, linked)
}
