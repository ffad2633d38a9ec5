package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/notecase/internal/crypto"
	"github.com/kuitang/notecase/internal/db"
	"github.com/kuitang/notecase/internal/email"
	"github.com/kuitang/notecase/internal/errs"
	"github.com/kuitang/notecase/internal/logutil"
	"github.com/kuitang/notecase/internal/obs"
	"github.com/kuitang/notecase/internal/urlutil"
)

// Errors
var (
	ErrUserNotFound       = errs.New(errs.NotFound, "user not found")
	ErrInvalidCredentials = errs.New(errs.Unauthenticated, "invalid email or password")
	ErrAccountExists      = errs.New(errs.Conflict, "an account with this email already exists")
	ErrInvalidToken       = errs.New(errs.Unauthenticated, "invalid or expired token")
	ErrInvalidLink        = errs.New(errs.InvalidArgument, "invalid or expired link")
	ErrWeakPassword       = &errs.Error{
		Code:    errs.InvalidArgument,
		Message: "password is too short",
		Fields:  map[string]string{"password": fmt.Sprintf("must be at least %d characters", MinPasswordLength)},
	}
	ErrPasswordTooLong = &errs.Error{
		Code:    errs.InvalidArgument,
		Message: "password is too long",
		Fields:  map[string]string{"password": fmt.Sprintf("must be at most %d characters", MaxPasswordLength)},
	}
	ErrInvalidEmail = &errs.Error{
		Code:    errs.InvalidArgument,
		Message: "invalid email address",
		Fields:  map[string]string{"email": "must be a valid email address"},
	}
)

// PasswordResetTTL bounds the lifetime of a password reset link.
const PasswordResetTTL = time.Hour

const maxEmailLength = 254

// RegistrationHook runs after an account is created. Hook errors are logged
// and do not fail the registration.
type RegistrationHook func(ctx context.Context, user *User) error

// UserService handles registration, login, email verification and password
// reset.
type UserService struct {
	store           *Store
	hasher          PasswordHasher
	emailService    email.EmailService
	baseURL         string
	verificationTTL time.Duration
	clock           Clock
	hooks           []RegistrationHook
}

// NewUserService creates a new user service.
func NewUserService(store *Store, hasher PasswordHasher, emailSvc email.EmailService, baseURL string, verificationTTL time.Duration) *UserService {
	return &UserService{
		store:           store,
		hasher:          hasher,
		emailService:    emailSvc,
		baseURL:         strings.TrimRight(baseURL, "/"),
		verificationTTL: verificationTTL,
		clock:           RealClock{},
	}
}

// SetClock sets the clock used for timestamps and token expiry.
func (s *UserService) SetClock(c Clock) {
	s.clock = c
}

// OnRegister appends a hook run after every successful registration.
func (s *UserService) OnRegister(hook RegistrationHook) {
	s.hooks = append(s.hooks, hook)
}

// NormalizeEmail trims and case-folds an address and checks its shape.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxEmailLength {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return db.NormalizeKey(trimmed), nil
}

// Register creates an account and sends a verification email. Returns
// ErrAccountExists when the email is taken, including when a concurrent
// registration wins the race.
func (s *UserService) Register(ctx context.Context, emailAddr, password string) (*User, error) {
	normalized, err := NormalizeEmail(emailAddr)
	if err != nil {
		return nil, err
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, err
	}

	if _, err := s.store.GetUserByEmail(ctx, normalized); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	passwordHash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	user := &User{
		UUID:         uuid.NewString(),
		Email:        normalized,
		PasswordHash: passwordHash,
		Roles:        []string{RoleUser},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	logger := obs.From(ctx).With("user_uuid", user.UUID)
	logger.Info("user_registered", "email", logutil.MaskEmail(user.Email))

	if err := s.SendVerification(ctx, user); err != nil {
		logger.Warn("verification_email_failed", "error", err)
	}
	for _, hook := range s.hooks {
		if err := hook(ctx, user); err != nil {
			logger.Error("registration_hook_failed", "error", err)
		}
	}
	return user, nil
}

// Authenticate checks an email/password pair. Unknown emails and wrong
// passwords both return ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, emailAddr, password string) (*User, error) {
	normalized, err := NormalizeEmail(emailAddr)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetByID returns a user by numeric id.
func (s *UserService) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.store.GetUserByID(ctx, id)
}

// GetByUUID returns a user by public uuid.
func (s *UserService) GetByUUID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}
	return s.store.GetUserByUUID(ctx, id)
}

// SendVerification issues a fresh verification link, replacing any earlier
// one. Verified users are skipped.
func (s *UserService) SendVerification(ctx context.Context, user *User) error {
	if user.Verified {
		return nil
	}
	token, err := s.issueUserToken(ctx, user.ID, PurposeVerifyEmail, s.verificationTTL)
	if err != nil {
		return err
	}
	return s.emailService.Send(user.Email, email.TemplateVerifyEmail, email.VerifyEmailData{
		Link:      urlutil.TokenLink(s.baseURL, "/verify-email", token),
		ExpiresIn: humanDuration(s.verificationTTL),
	})
}

// VerifyEmail consumes a verification token and marks the user verified.
func (s *UserService) VerifyEmail(ctx context.Context, token string) (*User, error) {
	var user *User
	err := s.store.WithTx(ctx, func(tx *Store) error {
		now := s.clock.Now()
		userID, err := tx.ConsumeUserToken(ctx, crypto.HashToken(token), PurposeVerifyEmail, now)
		if err != nil {
			return err
		}
		if err := tx.MarkVerified(ctx, userID, now); err != nil {
			return err
		}
		user, err = tx.GetUserByID(ctx, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, ErrInvalidLink
		}
		return nil, err
	}
	obs.From(ctx).Info("email_verified", "user_uuid", user.UUID)
	return user, nil
}

// SendPasswordReset emails a reset link when the address has an account.
// It reports success either way so callers cannot probe for accounts.
func (s *UserService) SendPasswordReset(ctx context.Context, emailAddr string) error {
	normalized, err := NormalizeEmail(emailAddr)
	if err != nil {
		return nil
	}
	user, err := s.store.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			obs.From(ctx).Debug("password_reset_unknown_email", "email", logutil.MaskEmail(normalized))
			return nil
		}
		return err
	}

	token, err := s.issueUserToken(ctx, user.ID, PurposePasswordReset, PasswordResetTTL)
	if err != nil {
		return err
	}
	err = s.emailService.Send(user.Email, email.TemplatePasswordReset, email.PasswordResetData{
		Link:      urlutil.TokenLink(s.baseURL, "/password-reset", token),
		ExpiresIn: humanDuration(PasswordResetTTL),
	})
	if err != nil {
		obs.From(ctx).Warn("password_reset_email_failed", "user_uuid", user.UUID, "error", err)
	}
	return nil
}

// ResetPassword consumes a reset token, sets the new password and revokes
// every refresh token of the user.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	passwordHash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var userID, revoked int64
	err = s.store.WithTx(ctx, func(tx *Store) error {
		now := s.clock.Now()
		userID, err = tx.ConsumeUserToken(ctx, crypto.HashToken(token), PurposePasswordReset, now)
		if err != nil {
			return err
		}
		if err := tx.UpdatePassword(ctx, userID, passwordHash, now); err != nil {
			return err
		}
		revoked, err = tx.RevokeAllRefreshTokens(ctx, userID, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return ErrInvalidLink
		}
		return err
	}
	obs.From(ctx).Info("password_reset", "user_id", userID, "revoked_refresh_tokens", revoked)
	return nil
}

func (s *UserService) issueUserToken(ctx context.Context, userID int64, purpose string, ttl time.Duration) (string, error) {
	token, err := crypto.RandomToken(32)
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	if err := s.store.ReplaceUserToken(ctx, crypto.HashToken(token), userID, purpose, now.Add(ttl), now); err != nil {
		return "", err
	}
	return token, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 48*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%d days", d/(24*time.Hour))
	case d >= 2*time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d == time.Hour:
		return "1 hour"
	default:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	}
}
