package accounts

import "fmt"

// Error is a failure whose message can be shown to the end user as-is.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches on Code so that an Error with a customised message still compares
// equal to its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) withMessage(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrMissingFields     = &Error{"missing_fields", "Please fill in all required fields."}
	ErrPasswordMismatch  = &Error{"password_mismatch", "Passwords do not match."}
	ErrPasswordTooShort  = &Error{"password_too_short", "Password must be at least 8 characters long."}
	ErrPasswordTooLong   = &Error{"password_too_long", "Password must be at most 72 bytes long."}
	ErrTermsNotAccepted  = &Error{"terms_not_accepted", "You must agree to the Terms of Service."}
	ErrInvalidEmail      = &Error{"invalid_email", "Enter a valid email address."}
	ErrUsernameTaken     = &Error{"username_taken", "Username already exists."}
	ErrEmailTaken        = &Error{"email_taken", "Email already registered."}
	ErrInvalidLogin      = &Error{"invalid_login", "Invalid username/email or password."}
	ErrUnknownEmailLogin = &Error{"invalid_login", "Invalid email or password."}
	ErrUserNotFound      = &Error{"user_not_found", "User not found."}

	ErrOTPRequired     = &Error{"otp_required", "Please enter the verification code."}
	ErrOTPFormat       = &Error{"otp_format", "Please enter a valid 6-digit code."}
	ErrOTPNotIssued    = &Error{"otp_not_issued", "No verification code found. Please request a new one."}
	ErrOTPExpired      = &Error{"otp_expired", "Verification code has expired. Please request a new one."}
	ErrOTPInvalid      = &Error{"otp_invalid", "Invalid verification code. Please try again."}
	ErrOTPLocked       = &Error{"otp_locked", "Too many incorrect attempts. Please request a new code."}
	ErrOTPRateLimited  = &Error{"otp_rate_limited", "Please wait 2 minutes before requesting a new code."}
	ErrAlreadyVerified = &Error{"already_verified", "This account is already verified. Please log in."}

	ErrInvalidResetLink        = &Error{"invalid_reset_link", "Invalid password reset link."}
	ErrInvalidVerificationLink = &Error{"invalid_verification_link", "Invalid verification link."}
)
