package accounts

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// IssueOTP generates a fresh code for the user, replacing any outstanding one.
// Only a hash of the code is persisted; the plain code is returned for emailing.
func (s *Service) IssueOTP(ctx context.Context, userID int64) (string, error) {
	code, err := generateOTP(s.config.OTPLength)
	if err != nil {
		return "", err
	}
	if err = s.store.SaveOTP(ctx, userID, hashOTP(userID, code), s.now()); err != nil {
		return "", err
	}
	return code, nil
}

// CanRequestOTP reports whether the resend cool-down has elapsed.
func (s *Service) CanRequestOTP(ctx context.Context, userID int64) (bool, error) {
	p, err := s.store.Profile(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.canRequestOTP(p), nil
}

func (s *Service) canRequestOTP(p *Profile) bool {
	if p.OTPCreatedAt.IsZero() {
		return true
	}
	return s.now().Sub(p.OTPCreatedAt) >= s.config.OTPResendInterval
}

// ResendOTP issues a new code unless one was sent within the resend interval.
func (s *Service) ResendOTP(ctx context.Context, userID int64) (string, error) {
	p, err := s.store.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.EmailVerified {
		return "", ErrAlreadyVerified
	}
	if !s.canRequestOTP(p) {
		return "", ErrOTPRateLimited.withMessage("Please wait %s before requesting a new code.", humanMinutes(s.config.OTPResendInterval.Minutes()))
	}
	return s.IssueOTP(ctx, userID)
}

// VerifyOTP checks a submitted code. On success the account is activated, the email
// marked verified and the code consumed.
func (s *Service) VerifyOTP(ctx context.Context, userID int64, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrOTPRequired
	}
	if len(code) != s.config.OTPLength || !isDigits(code) {
		return ErrOTPFormat.withMessage("Please enter a valid %d-digit code.", s.config.OTPLength)
	}

	p, err := s.store.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if p.EmailVerified {
		return ErrAlreadyVerified
	}
	if p.OTPHash == "" {
		return ErrOTPNotIssued
	}
	if p.OTPAttempts >= s.config.OTPMaxAttempts {
		return ErrOTPLocked
	}
	if s.now().Sub(p.OTPCreatedAt) > s.config.OTPTTL {
		return ErrOTPExpired
	}

	// Every comparison holds a reserved attempt, so concurrent guesses cannot
	// exceed the limit.
	attempt, err := s.store.RecordOTPAttempt(ctx, userID, s.config.OTPMaxAttempts)
	if err != nil {
		return err
	}
	submitted := hashOTP(userID, code)
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(p.OTPHash)) != 1 {
		if attempt >= s.config.OTPMaxAttempts {
			return ErrOTPLocked
		}
		return ErrOTPInvalid
	}

	if err = s.store.CompleteVerification(ctx, userID, submitted); err != nil {
		if errors.Is(err, ErrOTPInvalid) {
			return err
		}
		return fmt.Errorf("failed to complete verification: %w", err)
	}
	s.logger.Info("Email verified with one-time code", "user_id", userID)
	return nil
}

func generateOTP(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// hashOTP binds the code to the user so equal codes of different users differ.
func hashOTP(userID int64, code string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", userID, code)))
	return hex.EncodeToString(sum[:])
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func humanMinutes(m float64) string {
	if m == 1 {
		return "1 minute"
	}
	if m == float64(int(m)) {
		return fmt.Sprintf("%d minutes", int(m))
	}
	return fmt.Sprintf("%.0f seconds", m*60)
}
