package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/notecase/internal/db"
)

// Token purposes stored in user_tokens.
const (
	PurposeVerifyEmail   = "verify_email"
	PurposePasswordReset = "password_reset"
)

// RoleUser is granted to every account.
const RoleUser = "ROLE_USER"

// User represents a user account.
type User struct {
	ID           int64
	UUID         string
	Email        string
	PasswordHash string
	Verified     bool
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Store persists users and their tokens.
type Store struct {
	sqlDB *sql.DB
	q     db.DBTX
}

// NewStore wraps an open database.
func NewStore(sqlDB *sql.DB) *Store {
	return &Store{sqlDB: sqlDB, q: sqlDB}
}

// WithTx runs fn against a Store bound to one transaction. Calling WithTx
// on a transaction-bound Store reuses the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.sqlDB == nil {
		return fn(s)
	}
	return db.WithTx(ctx, s.sqlDB, func(ctx context.Context, tx db.DBTX) error {
		return fn(&Store{q: tx})
	})
}

const userColumns = `id, uuid, email, password_hash, verified, roles, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var verified int64
	var roles string
	var createdAt, updatedAt int64
	if err := row.Scan(&u.ID, &u.UUID, &u.Email, &u.PasswordHash, &verified, &roles, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.Verified = verified != 0
	u.Roles = splitRoles(roles)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &u, nil
}

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// CreateUser inserts u and sets u.ID. A taken email yields ErrAccountExists.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if len(u.Roles) == 0 {
		u.Roles = []string{RoleUser}
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO users (uuid, email, password_hash, verified, roles, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.UUID, u.Email, u.PasswordHash, boolToInt(u.Verified), strings.Join(u.Roles, ","),
		u.CreatedAt.Unix(), u.UpdatedAt.Unix())
	if err != nil {
		if db.IsUniqueViolation(err, "users.email") {
			return ErrAccountExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert user id: %w", err)
	}
	u.ID = id
	return nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByID returns the user with the numeric id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, `id = ?`, id)
}

// GetUserByUUID returns the user with the public uuid.
func (s *Store) GetUserByUUID(ctx context.Context, uuid string) (*User, error) {
	return s.getUser(ctx, `uuid = ?`, uuid)
}

// GetUserByEmail looks up an already normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `email = ?`, email)
}

// UpdatePassword replaces the password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, hash string, now time.Time) error {
	return s.execOne(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, now.Unix(), userID)
}

// MarkVerified sets the verified flag.
func (s *Store) MarkVerified(ctx context.Context, userID int64, now time.Time) error {
	return s.execOne(ctx, `UPDATE users SET verified = 1, updated_at = ? WHERE id = ?`, now.Unix(), userID)
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ReplaceUserToken stores a one-time token, dropping earlier tokens of the
// same purpose for the user.
func (s *Store) ReplaceUserToken(ctx context.Context, tokenHash string, userID int64, purpose string, expiresAt, now time.Time) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = ? AND purpose = ?`, userID, purpose); err != nil {
		return fmt.Errorf("delete old %s tokens: %w", purpose, err)
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO user_tokens (token_hash, user_id, purpose, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		tokenHash, userID, purpose, expiresAt.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("insert %s token: %w", purpose, err)
	}
	return nil
}

// ConsumeUserToken deletes a one-time token and returns its user id.
// Unknown, expired or wrong-purpose tokens yield ErrInvalidToken.
func (s *Store) ConsumeUserToken(ctx context.Context, tokenHash, purpose string, now time.Time) (int64, error) {
	var userID, expiresAt int64
	err := s.q.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM user_tokens WHERE token_hash = ? AND purpose = ?`,
		tokenHash, purpose).Scan(&userID, &expiresAt)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("get %s token: %w", purpose, err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM user_tokens WHERE token_hash = ?`, tokenHash); err != nil {
		return 0, fmt.Errorf("delete %s token: %w", purpose, err)
	}
	if expiresAt <= now.Unix() {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// InsertRefreshToken stores the hash of a new refresh token.
func (s *Store) InsertRefreshToken(ctx context.Context, tokenHash string, userID int64, expiresAt, now time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		tokenHash, userID, expiresAt.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// RevokeRefreshToken marks a live refresh token revoked and returns its
// user id. The guarded UPDATE matches at most one live row, so of two
// concurrent callers presenting the same token exactly one succeeds; the
// other, like callers with unknown, expired or revoked tokens, gets
// ErrInvalidToken.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (int64, error) {
	var userID int64
	err := s.q.QueryRowContext(ctx, `SELECT user_id FROM refresh_tokens WHERE token_hash = ?`, tokenHash).Scan(&userID)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("get refresh token: %w", err)
	}

	res, err := s.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?
		 WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?`,
		now.Unix(), tokenHash, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke refresh token rows: %w", err)
	}
	if n != 1 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// RevokeAllRefreshTokens revokes every live refresh token of the user.
func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID int64, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`,
		now.Unix(), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredTokens removes expired refresh and one-time tokens.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`,
		`DELETE FROM user_tokens WHERE expires_at <= ?`,
	} {
		res, err := s.q.ExecContext(ctx, q, now.Unix())
		if err != nil {
			return total, fmt.Errorf("delete expired tokens: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
