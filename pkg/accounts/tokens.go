package accounts

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

const (
	purposePasswordReset = "password_reset"
	purposeVerifyEmail   = "verify_email"
)

// Link identifies a user and carries a signed token, the two path segments of
// an emailed password reset or verification URL.
type Link struct {
	UID   string
	Token string
}

type linkClaims struct {
	Purpose     string `json:"purpose"`
	Fingerprint string `json:"fp"`
	jwt.RegisteredClaims
}

// EncodeUID renders a user id the way it appears in emailed links.
func EncodeUID(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

// DecodeUID is the inverse of EncodeUID.
func DecodeUID(uidb64 string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(uidb64)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// fingerprint covers every field whose change must invalidate outstanding links.
func fingerprint(u *User) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%d|%t|%s", u.ID, u.PasswordHash, toUnix(u.LastLogin), u.IsActive, u.Email)))
	return hex.EncodeToString(sum[:16])
}

func (s *Service) makeLink(u *User, purpose string) (Link, error) {
	now := s.now()
	claims := linkClaims{
		Purpose:     purpose,
		Fingerprint: fingerprint(u),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.TokenSecret))
	if err != nil {
		return Link{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return Link{UID: EncodeUID(u.ID), Token: token}, nil
}

// checkLink resolves the user behind a link and validates its token.
// invalid is returned for every malformed, expired or stale link.
func (s *Service) checkLink(ctx context.Context, link Link, purpose string, invalid *Error) (*User, error) {
	id, err := DecodeUID(link.UID)
	if err != nil {
		return nil, invalid
	}
	user, err := s.store.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, invalid
		}
		return nil, err
	}

	var claims linkClaims
	_, err = jwt.ParseWithClaims(link.Token, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.config.TokenSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		s.logger.Debug("Rejected link token", "purpose", purpose, "error", err)
		return nil, invalid
	}
	if claims.Purpose != purpose || claims.Subject != strconv.FormatInt(user.ID, 10) || claims.Fingerprint != fingerprint(user) {
		return nil, invalid
	}
	return user, nil
}

// RequestPasswordReset returns a reset link for the account registered under email.
// ErrUserNotFound must not be revealed to the requester.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*User, Link, error) {
	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		return nil, Link{}, err
	}
	link, err := s.makeLink(user, purposePasswordReset)
	if err != nil {
		return nil, Link{}, err
	}
	return user, link, nil
}

// CheckPasswordResetLink validates a link without consuming it.
func (s *Service) CheckPasswordResetLink(ctx context.Context, link Link) (*User, error) {
	return s.checkLink(ctx, link, purposePasswordReset, ErrInvalidResetLink)
}

// ResetPassword sets a new password through a reset link. The link stops working afterwards.
func (s *Service) ResetPassword(ctx context.Context, link Link, password1, password2 string) (*User, error) {
	user, err := s.CheckPasswordResetLink(ctx, link)
	if err != nil {
		return nil, err
	}
	if err = s.validatePassword(password1, password2); err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(password1)
	if err != nil {
		return nil, err
	}
	if err = s.store.SetPassword(ctx, user.ID, hash); err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	s.logger.Info("Password reset", "user_id", user.ID)
	return user, nil
}

// MakeVerificationLink returns a signed email verification link for the user.
func (s *Service) MakeVerificationLink(u *User) (Link, error) {
	return s.makeLink(u, purposeVerifyEmail)
}

// VerifyEmailLink activates the account behind a verification link.
func (s *Service) VerifyEmailLink(ctx context.Context, link Link) (*User, error) {
	user, err := s.checkLink(ctx, link, purposeVerifyEmail, ErrInvalidVerificationLink)
	if err != nil {
		return nil, err
	}
	if err = s.store.CompleteVerification(ctx, user.ID, ""); err != nil {
		return nil, err
	}
	user.IsActive = true
	return user, nil
}
