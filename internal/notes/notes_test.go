package notes

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/notecase/internal/errs"
)

func TestCreate_ValidatesAndDefaults(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")

	n, err := f.svc.Create(ctx, owner, CreateNoteParams{
		Title:       "Groceries",
		Description: "- milk\n- eggs",
		Labels:      []string{" Home ", "home", "", "errands"},
	})
	require.NoError(t, err)
	require.Equal(t, VisibilityPrivate, n.Visibility)
	require.Equal(t, []string{"Home", "errands"}, n.Labels)
	require.Equal(t, f.userUUID(t, owner), n.OwnerUUID)
	_, err = uuid.Parse(n.URLToken)
	require.NoError(t, err)
	require.True(t, f.clock.Now().Equal(n.CreatedAt))

	_, err = f.svc.Create(ctx, owner, CreateNoteParams{Title: " ", Description: ""})
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	fields := errs.FieldsOf(err)
	require.Contains(t, fields, "title")
	require.Contains(t, fields, "description")

	_, err = f.svc.Create(ctx, owner, CreateNoteParams{Title: strings.Repeat("é", MaxTitleLength+1), Description: "x"})
	require.Contains(t, errs.FieldsOf(err), "title")

	_, err = f.svc.Create(ctx, owner, CreateNoteParams{Title: strings.Repeat("é", MaxTitleLength), Description: "x"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, owner, CreateNoteParams{Title: "t", Description: "d", Visibility: "secret"})
	require.Contains(t, errs.FieldsOf(err), "visibility")
}

func TestCreate_RetriesTokenCollisionOnce(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	existing := f.newNote(t, owner, VisibilityPublic)

	fresh := uuid.NewString()
	calls := 0
	f.svc.SetTokenGenerator(func() string {
		calls++
		if calls == 1 {
			return existing.URLToken
		}
		return fresh
	})

	n, err := f.svc.Create(ctx, owner, CreateNoteParams{Title: "second", Description: "body"})
	require.NoError(t, err)
	require.Equal(t, fresh, n.URLToken)
	require.Equal(t, 2, calls)
}

func TestCreate_TokenExhaustion(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	existing := f.newNote(t, owner, VisibilityPrivate)

	calls := 0
	f.svc.SetTokenGenerator(func() string {
		calls++
		return existing.URLToken
	})

	_, err := f.svc.Create(ctx, owner, CreateNoteParams{Title: "doomed", Description: "body"})
	require.ErrorIs(t, err, ErrTokenGenerationExhausted)
	require.Equal(t, errs.Conflict, errs.CodeOf(err))
	require.Equal(t, MaxTokenAttempts, calls)

	page, err := f.svc.ListOwned(ctx, owner, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalItems, "failed attempts must roll back")
}

func TestGet_OwnerAndCollaboratorOnly(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	collab := f.newUser(t, "")
	stranger := f.newUser(t, "")

	n := f.newNote(t, owner, VisibilityPublic)
	f.share(t, n, owner, collab)

	_, err := f.svc.Get(ctx, n.ID, owner)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, n.ID, collab)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, n.ID, stranger)
	require.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.svc.Get(ctx, n.ID+1000, owner)
	require.ErrorIs(t, err, ErrNoteNotFound)
}

func TestGetPublic_OnlyPublicNotes(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")

	public := f.newNote(t, owner, VisibilityPublic)
	got, err := f.svc.GetPublic(ctx, strings.ToUpper(public.URLToken))
	require.NoError(t, err)
	require.Equal(t, public.ID, got.ID)
	require.Contains(t, got.HTML, "<strong>markdown</strong>")

	for _, vis := range []Visibility{VisibilityPrivate, VisibilityDraft} {
		n := f.newNote(t, owner, vis)
		_, err := f.svc.GetPublic(ctx, n.URLToken)
		require.ErrorIs(t, err, ErrUnavailable)
	}
	for _, token := range []string{"", "not-a-uuid", uuid.NewString()} {
		_, err := f.svc.GetPublic(ctx, token)
		require.ErrorIs(t, err, ErrUnavailable)
	}
}

func TestPreview_AccessMatrix(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	collab := f.newUser(t, "")
	stranger := f.newUser(t, "")

	draft := f.newNote(t, owner, VisibilityDraft)
	public := f.newNote(t, owner, VisibilityPublic)
	private := f.newNote(t, owner, VisibilityPrivate)
	f.share(t, draft, owner, collab)
	f.share(t, private, owner, collab)

	for _, r := range []*Requester{nil, stranger, collab, owner} {
		_, err := f.svc.Preview(ctx, draft.URLToken, r)
		require.ErrorIs(t, err, ErrUnavailable, "draft must be masked for everyone")

		got, err := f.svc.Preview(ctx, public.URLToken, r)
		require.NoError(t, err)
		require.Equal(t, public.ID, got.ID)
	}

	for _, r := range []*Requester{owner, collab} {
		_, err := f.svc.Preview(ctx, private.URLToken, r)
		require.NoError(t, err)
	}

	_, anonErr := f.svc.Preview(ctx, private.URLToken, nil)
	require.ErrorIs(t, anonErr, ErrUnavailable)
	_, strangerErr := f.svc.Preview(ctx, private.URLToken, stranger)
	require.ErrorIs(t, strangerErr, ErrUnavailableTo)
	require.Equal(t, errs.MessageOf(anonErr), errs.MessageOf(strangerErr))

	_, err := f.svc.Preview(ctx, "../etc/passwd", stranger)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestUpdate_PartialFields(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPrivate, "a", "b")

	f.clock.Advance(time.Minute)
	updated, err := f.svc.Update(ctx, n.ID, owner, UpdateNoteParams{})
	require.NoError(t, err)
	require.Equal(t, n.Title, updated.Title)
	require.Equal(t, n.Labels, updated.Labels)
	require.True(t, updated.UpdatedAt.After(n.UpdatedAt), "updated_at stamped on empty update")

	updated, err = f.svc.Update(ctx, n.ID, owner, UpdateNoteParams{
		Title:      ptr("New title"),
		Labels:     ptr([]string{}),
		Visibility: ptr(VisibilityPublic),
	})
	require.NoError(t, err)
	require.Equal(t, "New title", updated.Title)
	require.Equal(t, n.Description, updated.Description)
	require.Empty(t, updated.Labels)
	require.Equal(t, VisibilityPublic, updated.Visibility)
	require.Equal(t, n.URLToken, updated.URLToken)

	_, err = f.svc.Update(ctx, n.ID, owner, UpdateNoteParams{Description: ptr("  ")})
	require.Contains(t, errs.FieldsOf(err), "description")
}

func TestUpdate_Permissions(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	collab := f.newUser(t, "")
	stranger := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPublic)
	f.share(t, n, owner, collab)

	_, err := f.svc.Update(ctx, n.ID, collab, UpdateNoteParams{Title: ptr("by collaborator")})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, n.ID, stranger, UpdateNoteParams{Title: ptr("by stranger")})
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.Update(ctx, n.ID, nil, UpdateNoteParams{Title: ptr("anonymous")})
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.Update(ctx, 999999, owner, UpdateNoteParams{})
	require.ErrorIs(t, err, ErrNoteNotFound)
}

func TestDelete_OwnerOnlyAndCascades(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	collab := f.newUser(t, "")
	stranger := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPrivate)
	f.share(t, n, owner, collab)

	err := f.svc.Delete(ctx, n.ID, collab)
	require.ErrorIs(t, err, ErrOwnerOnly)
	require.Equal(t, "only the owner can delete this note", errs.MessageOf(err))
	require.ErrorIs(t, f.svc.Delete(ctx, n.ID, stranger), ErrAccessDenied)

	require.NoError(t, f.svc.Delete(ctx, n.ID, owner))
	require.ErrorIs(t, f.svc.Delete(ctx, n.ID, owner), ErrNoteNotFound)

	rows, err := f.store.ListCollaborators(ctx, n.ID)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRegenerateLink(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	stranger := f.newUser(t, "")
	n := f.newNote(t, owner, VisibilityPublic)

	_, err := f.svc.RegenerateLink(ctx, n.ID, stranger)
	require.ErrorIs(t, err, ErrAccessDenied)

	updated, err := f.svc.RegenerateLink(ctx, n.ID, owner)
	require.NoError(t, err)
	require.NotEqual(t, n.URLToken, updated.URLToken)

	_, err = f.svc.GetPublic(ctx, n.URLToken)
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = f.svc.GetPublic(ctx, updated.URLToken)
	require.NoError(t, err)

	other := f.newNote(t, owner, VisibilityPrivate)
	f.svc.SetTokenGenerator(func() string { return other.URLToken })
	_, err = f.svc.RegenerateLink(ctx, n.ID, owner)
	require.ErrorIs(t, err, ErrTokenGenerationExhausted)
}

func TestListOwned_Filters(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	other := f.newUser(t, "")

	mk := func(title, desc string, vis Visibility, labels ...string) {
		_, err := f.svc.Create(ctx, owner, CreateNoteParams{Title: title, Description: desc, Visibility: vis, Labels: labels})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	mk("Élan vital", "philosophy", VisibilityPublic, "Books")
	mk("Go tips", "channels and CAFÉ", VisibilityPrivate, "go", "work")
	mk("Draft plan", "todo", VisibilityDraft, "work")
	f.newNote(t, other, VisibilityPublic, "work")

	all, err := f.svc.ListOwned(ctx, owner, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, all.TotalItems)
	require.Equal(t, "Draft plan", all.Items[0].Title, "newest first")

	work, err := f.svc.ListOwned(ctx, owner, ListFilter{Labels: []string{"WORK"}})
	require.NoError(t, err)
	require.Equal(t, 2, work.TotalItems)

	either, err := f.svc.ListOwned(ctx, owner, ListFilter{Labels: []string{"books", "go"}})
	require.NoError(t, err)
	require.Equal(t, 2, either.TotalItems)

	drafts, err := f.svc.ListOwned(ctx, owner, ListFilter{Visibility: ptr(VisibilityDraft)})
	require.NoError(t, err)
	require.Equal(t, 1, drafts.TotalItems)

	text, err := f.svc.ListOwned(ctx, owner, ListFilter{Text: ptr("café")})
	require.NoError(t, err)
	require.Equal(t, 1, text.TotalItems)
	require.Equal(t, "Go tips", text.Items[0].Title)

	text, err = f.svc.ListOwned(ctx, owner, ListFilter{Text: ptr("élan")})
	require.NoError(t, err)
	require.Equal(t, 1, text.TotalItems)

	_, err = f.svc.ListOwned(ctx, owner, ListFilter{Visibility: ptr(Visibility("bogus"))})
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestListShared(t *testing.T) {
	f := newNotesFixture(t)
	ctx := context.Background()
	owner := f.newUser(t, "")
	collab := f.newUser(t, "")

	shared := f.newNote(t, owner, VisibilityPrivate)
	f.newNote(t, owner, VisibilityPrivate)
	f.share(t, shared, owner, collab)

	page, err := f.svc.ListShared(ctx, collab, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalItems)
	require.Equal(t, shared.ID, page.Items[0].ID)

	page, err = f.svc.ListShared(ctx, owner, ListFilter{})
	require.NoError(t, err)
	require.Zero(t, page.TotalItems)
}

func TestNormalizePage(t *testing.T) {
	cases := []struct{ page, perPage, wantPage, wantPer int }{
		{0, 0, 1, DefaultPerPage},
		{-3, 5, 1, 5},
		{2, 500, 2, MaxPerPage},
	}
	for _, tc := range cases {
		p, pp := normalizePage(tc.page, tc.perPage)
		if p != tc.wantPage || pp != tc.wantPer {
			t.Errorf("normalizePage(%d, %d) = (%d, %d)", tc.page, tc.perPage, p, pp)
		}
	}
	if totalPages(0, 10) != 0 || totalPages(10, 10) != 1 || totalPages(11, 10) != 2 {
		t.Errorf("totalPages mismatch")
	}
}
