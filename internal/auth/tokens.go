package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kuitang/notecase/internal/crypto"
	"github.com/kuitang/notecase/internal/obs"
)

// Issuer is the iss claim of every access token.
const Issuer = "notecase"

// refreshTokenBytes is the entropy of a refresh token before encoding.
const refreshTokenBytes = 32

// TokenPair is returned by login, registration and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AccessClaims are the claims of an access token. Subject is the user uuid.
type AccessClaims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues HS256 access tokens and rotating refresh tokens.
type TokenService struct {
	store      *Store
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      Clock
}

// NewTokenService creates a token service signing with key.
func NewTokenService(store *Store, key []byte, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		store:      store,
		key:        key,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      RealClock{},
	}
}

// SetClock sets the clock used for issuing and validating tokens.
func (s *TokenService) SetClock(c Clock) {
	s.clock = c
}

// Issue creates a new access token and refresh token for user.
func (s *TokenService) Issue(ctx context.Context, user *User) (*TokenPair, error) {
	refresh, err := s.insertRefresh(ctx, s.store, user.ID)
	if err != nil {
		return nil, err
	}
	return s.pair(user, refresh)
}

// Refresh rotates a refresh token. The old token is revoked and the new one
// stored in the same transaction; a token that is unknown, expired or
// already revoked yields ErrInvalidToken.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *User, error) {
	if refreshToken == "" {
		return nil, nil, ErrInvalidToken
	}

	var user *User
	var next string
	err := s.store.WithTx(ctx, func(tx *Store) error {
		userID, err := tx.RevokeRefreshToken(ctx, crypto.HashToken(refreshToken), s.clock.Now())
		if err != nil {
			return err
		}
		user, err = tx.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return ErrInvalidToken
			}
			return err
		}
		next, err = s.insertRefresh(ctx, tx, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			obs.From(ctx).Info("refresh_rejected")
		}
		return nil, nil, err
	}

	pair, err := s.pair(user, next)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Revoke revokes a refresh token on logout. Unknown and already revoked
// tokens are ignored.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	_, err := s.store.RevokeRefreshToken(ctx, crypto.HashToken(refreshToken), s.clock.Now())
	if err != nil && !errors.Is(err, ErrInvalidToken) {
		return err
	}
	return nil
}

// RevokeAllForUser revokes every live refresh token of the user.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID int64) error {
	_, err := s.store.RevokeAllRefreshTokens(ctx, userID, s.clock.Now())
	return err
}

// ParseAccessToken validates signature, algorithm, issuer and expiry and
// returns the claims.
func (s *TokenService) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) signAccess(user *User) (string, error) {
	now := s.clock.Now()
	jti, err := crypto.RandomToken(16)
	if err != nil {
		return "", err
	}
	claims := AccessClaims{
		Email: user.Email,
		Roles: user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   user.UUID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) insertRefresh(ctx context.Context, store *Store, userID int64) (string, error) {
	token, err := crypto.RandomToken(refreshTokenBytes)
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	if err := store.InsertRefreshToken(ctx, crypto.HashToken(token), userID, now.Add(s.refreshTTL), now); err != nil {
		return "", err
	}
	return token, nil
}

func (s *TokenService) pair(user *User, refresh string) (*TokenPair, error) {
	access, err := s.signAccess(user)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}
