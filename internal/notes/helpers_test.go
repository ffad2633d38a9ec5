package notes

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/notecase/internal/auth"
	"github.com/kuitang/notecase/internal/email"
	"github.com/kuitang/notecase/internal/testdb"
)

var userCounter atomic.Int64

type notesFixture struct {
	svc    *Service
	store  *Store
	users  *auth.Store
	clock  *auth.FakeClock
	emails *email.MockEmailService
}

func newNotesFixture(t testing.TB) *notesFixture {
	t.Helper()
	sqlDB := testdb.New(t)
	clock := auth.NewFakeClock(time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC))
	emails := email.NewMockEmailService()

	store := NewStore(sqlDB)
	svc := NewService(store)
	svc.SetClock(clock)
	svc.SetInviteMailer(emails, "https://notes.test")

	return &notesFixture{
		svc:    svc,
		store:  store,
		users:  auth.NewStore(sqlDB),
		clock:  clock,
		emails: emails,
	}
}

// newUser creates an account and returns it as a requester.
func (f *notesFixture) newUser(t testing.TB, emailAddr string) *Requester {
	t.Helper()
	if emailAddr == "" {
		emailAddr = fmt.Sprintf("user%d@example.com", userCounter.Add(1))
	}
	now := f.clock.Now()
	u := &auth.User{
		UUID:         uuid.NewString(),
		Email:        emailAddr,
		PasswordHash: "$fake$password",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.users.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", emailAddr, err)
	}
	return &Requester{UserID: u.ID, Email: u.Email}
}

func (f *notesFixture) userUUID(t testing.TB, r *Requester) string {
	t.Helper()
	u, err := f.users.GetUserByID(context.Background(), r.UserID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	return u.UUID
}

func (f *notesFixture) newNote(t testing.TB, owner *Requester, vis Visibility, labels ...string) *Note {
	t.Helper()
	n, err := f.svc.Create(context.Background(), owner, CreateNoteParams{
		Title:       "Note " + uuid.NewString()[:8],
		Description: "Some **markdown** body",
		Labels:      labels,
		Visibility:  vis,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return n
}

func (f *notesFixture) share(t testing.TB, n *Note, owner, collaborator *Requester) {
	t.Helper()
	if _, err := f.svc.AddCollaborator(context.Background(), n.ID, collaborator.Email, owner); err != nil {
		t.Fatalf("AddCollaborator: %v", err)
	}
}

func ptr[T any](v T) *T { return &v }
