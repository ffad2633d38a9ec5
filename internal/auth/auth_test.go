package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/notecase/internal/crypto"
	"github.com/kuitang/notecase/internal/email"
	"github.com/kuitang/notecase/internal/errs"
	"github.com/kuitang/notecase/internal/testdb"
)

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 30 * 24 * time.Hour
)

type authFixture struct {
	store  *Store
	users  *UserService
	tokens *TokenService
	mw     *Middleware
	clock  *FakeClock
	emails *email.MockEmailService
}

func newAuthFixture(t testing.TB) *authFixture {
	t.Helper()
	store := NewStore(testdb.New(t))
	clock := NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	emails := email.NewMockEmailService()

	users := NewUserService(store, FakeInsecureHasher{}, emails, "https://notes.test/", 24*time.Hour)
	users.SetClock(clock)
	tokens := NewTokenService(store, crypto.DeriveKey(testdb.Key(), crypto.PurposeAccessTokens), testAccessTTL, testRefreshTTL)
	tokens.SetClock(clock)

	return &authFixture{
		store:  store,
		users:  users,
		tokens: tokens,
		mw:     NewMiddleware(tokens, users),
		clock:  clock,
		emails: emails,
	}
}

func tokenFromLink(t testing.TB, link string) string {
	t.Helper()
	_, token, ok := strings.Cut(link, "token=")
	if !ok || token == "" {
		t.Fatalf("link %q has no token", link)
	}
	return token
}

func TestRegister_NormalizesEmailAndSendsVerification(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, "  Alice@Example.COM ", "correct horse")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.False(t, user.Verified)
	require.True(t, user.HasRole(RoleUser))
	require.NotZero(t, user.ID)

	require.Equal(t, 1, f.emails.Count())
	sent := f.emails.LastEmail()
	require.Equal(t, email.TemplateVerifyEmail, sent.Template)
	data := sent.Data.(email.VerifyEmailData)
	require.True(t, strings.HasPrefix(data.Link, "https://notes.test/verify-email?token="))
	require.Equal(t, "24 hours", data.ExpiresIn)

	verified, err := f.users.VerifyEmail(ctx, tokenFromLink(t, data.Link))
	require.NoError(t, err)
	require.True(t, verified.Verified)

	_, err = f.users.VerifyEmail(ctx, tokenFromLink(t, data.Link))
	require.ErrorIs(t, err, ErrInvalidLink)
}

func TestRegister_DuplicateEmailIsConflict(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.users.Register(ctx, "bob@example.com", "password-one")
	require.NoError(t, err)

	_, err = f.users.Register(ctx, "BOB@example.com", "password-two")
	require.ErrorIs(t, err, ErrAccountExists)
	require.Equal(t, errs.Conflict, errs.CodeOf(err))
}

func TestStore_CreateUserUniqueBackstop(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	first := &User{UUID: "11111111-1111-4111-8111-111111111111", Email: "race@example.com", PasswordHash: "$fake$x", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.store.CreateUser(ctx, first))

	second := &User{UUID: "22222222-2222-4222-8222-222222222222", Email: "race@example.com", PasswordHash: "$fake$y", CreatedAt: now, UpdatedAt: now}
	require.ErrorIs(t, f.store.CreateUser(ctx, second), ErrAccountExists)
}

func TestRegister_Validation(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.users.Register(ctx, "not-an-email", "long enough pw")
	require.ErrorIs(t, err, ErrInvalidEmail)
	require.Contains(t, errs.FieldsOf(err), "email")

	_, err = f.users.Register(ctx, "Carol <carol@example.com>", "long enough pw")
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = f.users.Register(ctx, "carol@example.com", "short")
	require.ErrorIs(t, err, ErrWeakPassword)
	require.Contains(t, errs.FieldsOf(err), "password")

	_, err = f.users.Register(ctx, "carol@example.com", strings.Repeat("p", MaxPasswordLength+1))
	require.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestRegister_RunsHooksAndSurvivesFailures(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	var seen []string
	f.users.OnRegister(func(_ context.Context, u *User) error {
		seen = append(seen, u.Email)
		return errors.New("hook exploded")
	})
	f.emails.FailWith = errors.New("smtp down")

	user, err := f.users.Register(ctx, "hooked@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, []string{user.Email}, seen)
}

func TestAuthenticate(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	registered, err := f.users.Register(ctx, "dana@example.com", "password123")
	require.NoError(t, err)

	user, err := f.users.Authenticate(ctx, "DANA@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, registered.UUID, user.UUID)

	_, err = f.users.Authenticate(ctx, "dana@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.users.Authenticate(ctx, "nobody@example.com", "password123")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, errs.Unauthenticated, errs.CodeOf(err))
}

func TestGetByUUID_MalformedIsNotFound(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.users.GetByUUID(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyEmail_ExpiredLinkRejected(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.users.Register(ctx, "late@example.com", "password123")
	require.NoError(t, err)
	link := f.emails.LastEmail().Data.(email.VerifyEmailData).Link

	f.clock.Advance(25 * time.Hour)
	_, err = f.users.VerifyEmail(ctx, tokenFromLink(t, link))
	require.ErrorIs(t, err, ErrInvalidLink)
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestPasswordReset_RevokesRefreshTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, "erin@example.com", "old-password")
	require.NoError(t, err)
	pair, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)

	require.NoError(t, f.users.SendPasswordReset(ctx, "Erin@example.com"))
	sent := f.emails.LastEmail()
	require.Equal(t, email.TemplatePasswordReset, sent.Template)
	token := tokenFromLink(t, sent.Data.(email.PasswordResetData).Link)

	require.ErrorIs(t, f.users.ResetPassword(ctx, token, "short"), ErrWeakPassword)
	require.NoError(t, f.users.ResetPassword(ctx, token, "new-password"))
	require.ErrorIs(t, f.users.ResetPassword(ctx, token, "another-password"), ErrInvalidLink)

	_, err = f.users.Authenticate(ctx, "erin@example.com", "old-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.users.Authenticate(ctx, "erin@example.com", "new-password")
	require.NoError(t, err)

	_, _, err = f.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestSendPasswordReset_UnknownEmailSucceedsSilently(t *testing.T) {
	f := newAuthFixture(t)
	require.NoError(t, f.users.SendPasswordReset(context.Background(), "ghost@example.com"))
	require.NoError(t, f.users.SendPasswordReset(context.Background(), "garbage"))
	require.Equal(t, 0, f.emails.Count())
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, "frank@example.com", "password123")
	require.NoError(t, err)
	first, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)

	second, refreshed, err := f.tokens.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, user.UUID, refreshed.UUID)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, "Bearer", second.TokenType)
	require.Equal(t, int64(testAccessTTL/time.Second), second.ExpiresIn)

	_, _, err = f.tokens.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.Equal(t, errs.Unauthenticated, errs.CodeOf(err))

	_, _, err = f.tokens.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_ExpiredAndUnknown(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, "gina@example.com", "password123")
	require.NoError(t, err)
	pair, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)

	_, _, err = f.tokens.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, _, err = f.tokens.Refresh(ctx, "never-issued")
	require.ErrorIs(t, err, ErrInvalidToken)

	f.clock.Advance(testRefreshTTL)
	_, _, err = f.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke_Logout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, "hank@example.com", "password123")
	require.NoError(t, err)
	pair, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)

	require.NoError(t, f.tokens.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, f.tokens.Revoke(ctx, pair.RefreshToken))
	require.NoError(t, f.tokens.Revoke(ctx, "unknown"))

	_, _, err = f.tokens.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, "ivy@example.com", "password123")
	require.NoError(t, err)
	pair, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)

	claims, err := f.tokens.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.UUID, claims.Subject)
	require.Equal(t, Issuer, claims.Issuer)
	require.Equal(t, user.Email, claims.Email)

	other := NewTokenService(f.store, crypto.DeriveKey(testdb.Key(), crypto.PurposeDatabase), testAccessTTL, testRefreshTTL)
	other.SetClock(f.clock)
	_, err = other.ParseAccessToken(pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	f.clock.Advance(testAccessTTL + time.Second)
	_, err = f.tokens.ParseAccessToken(pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func testParseAccessToken_RejectsGarbage(t *rapid.T) {
	tokens := NewTokenService(nil, []byte("0123456789abcdef0123456789abcdef"), time.Minute, time.Hour)
	raw := rapid.String().Draw(t, "raw")
	if _, err := tokens.ParseAccessToken(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseAccessToken(%q) = %v, want ErrInvalidToken", raw, err)
	}
}

func TestParseAccessToken_RejectsGarbage(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testParseAccessToken_RejectsGarbage)
}

func TestMiddleware(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, "jo@example.com", "password123")
	require.NoError(t, err)
	pair, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)

	var gotUser *User
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	serve := func(mw func(http.Handler) http.Handler, authz string) *httptest.ResponseRecorder {
		gotUser = nil
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, req)
		return rec
	}

	rec := serve(f.mw.RequireAuth, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "authentication required")
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = serve(f.mw.RequireAuth, "Bearer not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(f.mw.RequireAuth, "bearer "+pair.AccessToken)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, gotUser)
	require.Equal(t, user.UUID, gotUser.UUID)

	rec = serve(f.mw.OptionalAuth, "Bearer not-a-jwt")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, gotUser)

	rec = serve(f.mw.OptionalAuth, "Bearer "+pair.AccessToken)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, gotUser)
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"missing":      {"", "", false},
		"basic":        {"Basic abc", "", false},
		"empty bearer": {"Bearer   ", "", false},
		"bearer":       {"Bearer abc.def", "abc.def", true},
		"lowercase":    {"bearer xyz", "xyz", true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			got, ok := BearerToken(req)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("BearerToken(%q) = (%q, %v), want (%q, %v)", tc.header, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		24 * time.Hour:   "24 hours",
		72 * time.Hour:   "3 days",
		time.Hour:        "1 hour",
		30 * time.Minute: "30 minutes",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Errorf("humanDuration(%s) = %q, want %q", d, got, want)
		}
	}
}
