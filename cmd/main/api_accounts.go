package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CTAG07/webgen/pkg/accounts"
	"github.com/CTAG07/webgen/pkg/mailer"
	"github.com/CTAG07/webgen/pkg/session"
)

const (
	sessionKeyOTPUser  = "otp_user_id"
	sessionKeyOTPStart = "otp_session_start"
)

const (
	msgAlreadySignedIn = "You are already signed in."
	msgSessionExpired  = "Session expired. Please register again."
	msgInvalidSession  = "Invalid session. Please register again."
	msgResetRequested  = "If an account with this email exists, a password reset link has been sent."
)

// AccountsAPI holds the dependencies for the registration, login and password handlers.
type AccountsAPI struct {
	accounts  *accounts.Service
	mailer    mailer.Mailer
	renderer  *mailer.Renderer
	metrics   *Metrics
	logger    *slog.Logger
	baseURL   string
	otpWindow time.Duration
	now       func() time.Time
}

func NewAccountsAPI(svc *accounts.Service, m mailer.Mailer, renderer *mailer.Renderer, metrics *Metrics, config *Config, logger *slog.Logger) *AccountsAPI {
	return &AccountsAPI{
		accounts:  svc,
		mailer:    m,
		renderer:  renderer,
		metrics:   metrics,
		logger:    logger,
		baseURL:   strings.TrimRight(config.Server.BaseURL, "/"),
		otpWindow: config.otpSessionWindow(),
		now:       time.Now,
	}
}

// RegisterRoutes sets up the routing for all /api/accounts endpoints.
func (a *AccountsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/accounts/register", a.handleRegister)
	mux.HandleFunc("/api/accounts/verify-otp", a.handleVerifyOTP)
	mux.HandleFunc("/api/accounts/resend-otp", a.handleResendOTP)
	mux.HandleFunc("/api/accounts/verification-link", a.handleVerificationLink)
	mux.HandleFunc("/api/accounts/verify-email/", a.handleVerifyEmail)
	mux.HandleFunc("/api/accounts/login", a.handleLogin)
	mux.HandleFunc("/api/accounts/logout", a.handleLogout)
	mux.HandleFunc("/api/accounts/profile", requireUser(a.handleProfile))
	mux.HandleFunc("/api/accounts/password-reset", a.handlePasswordReset)
	mux.HandleFunc("/api/accounts/password-reset-confirm/", a.handlePasswordResetConfirm)
	mux.HandleFunc("/api/accounts/check-username", a.handleCheckUsername)
	mux.HandleFunc("/api/accounts/check-email", a.handleCheckEmail)
}

// MessageResponse is the body of most successful account actions.
type MessageResponse struct {
	Message string         `json:"message"`
	User    *accounts.User `json:"user,omitempty"`
}

func (a *AccountsAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if currentUser(r) != nil {
		respondWithError(w, http.StatusConflict, msgAlreadySignedIn)
		return
	}

	var req accounts.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	user, code, err := a.accounts.Register(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, a.logger, "Registration failed", err)
		return
	}
	a.metrics.registrations.Inc()

	sess := session.FromContext(r.Context())
	sess.SetInt64(sessionKeyOTPUser, user.ID)
	sess.SetInt64(sessionKeyOTPStart, a.now().Unix())

	// The account exists either way; a failed send can be retried with resend-otp.
	_ = a.sendOTP(r.Context(), user, code)

	respondWithJSON(w, http.StatusCreated, MessageResponse{
		Message: "Registration successful! Please check your email for the verification code.",
		User:    user,
	})
}

// pendingUser returns the user whose registration this session is verifying.
// It writes the error response itself and returns nil when there is none.
func (a *AccountsAPI) pendingUser(w http.ResponseWriter, r *http.Request) *accounts.User {
	sess := session.FromContext(r.Context())
	id, ok := sess.GetInt64(sessionKeyOTPUser)
	if !ok {
		respondWithError(w, http.StatusBadRequest, msgSessionExpired)
		return nil
	}
	if start, ok := sess.GetInt64(sessionKeyOTPStart); ok && a.now().Sub(time.Unix(start, 0)) > a.otpWindow {
		clearPending(sess)
		respondWithError(w, http.StatusBadRequest, msgSessionExpired)
		return nil
	}

	user, err := a.accounts.Store().UserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrUserNotFound) {
			clearPending(sess)
			respondWithError(w, http.StatusBadRequest, msgInvalidSession)
			return nil
		}
		a.logger.Error("Failed to load pending user", "user_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load pending registration")
		return nil
	}
	return user
}

func clearPending(sess *session.Session) {
	sess.Delete(sessionKeyOTPUser)
	sess.Delete(sessionKeyOTPStart)
}

// PendingResponse describes an unfinished registration.
type PendingResponse struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	CanResend bool   `json:"can_resend"`
}

func (a *AccountsAPI) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user := a.pendingUser(w, r)
		if user == nil {
			return
		}
		canResend, err := a.accounts.CanRequestOTP(r.Context(), user.ID)
		if err != nil {
			respondWithServiceError(w, a.logger, "Failed to load verification state", err)
			return
		}
		respondWithJSON(w, http.StatusOK, PendingResponse{Email: user.Email, Username: user.Username, CanResend: canResend})
	case http.MethodPost:
		user := a.pendingUser(w, r)
		if user == nil {
			return
		}
		var req struct {
			OTP string `json:"otp"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}

		err := a.accounts.VerifyOTP(r.Context(), user.ID, req.OTP)
		a.metrics.otpVerifications.WithLabelValues(result(err)).Inc()
		if err != nil {
			respondWithServiceError(w, a.logger, "Verification failed", err)
			return
		}
		clearPending(session.FromContext(r.Context()))
		respondWithJSON(w, http.StatusOK, MessageResponse{
			Message: "Email verified successfully! You can now log in and start creating websites!",
		})
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *AccountsAPI) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	user := a.pendingUser(w, r)
	if user == nil {
		return
	}

	code, err := a.accounts.ResendOTP(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, accounts.ErrOTPRateLimited) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(a.accounts.Config().OTPResendInterval.Seconds())))
			respondWithError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		respondWithServiceError(w, a.logger, "Failed to issue verification code", err)
		return
	}
	if err = a.sendOTP(r.Context(), user, code); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "Failed to send verification code. Please try again later.")
		return
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "A new verification code has been sent to your email."})
}

// handleVerificationLink emails a signed activation link to the pending user
// as an alternative to typing the code.
func (a *AccountsAPI) handleVerificationLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	user := a.pendingUser(w, r)
	if user == nil {
		return
	}
	if user.IsActive {
		respondWithError(w, http.StatusBadRequest, accounts.ErrAlreadyVerified.Message)
		return
	}

	link, err := a.accounts.MakeVerificationLink(user)
	if err != nil {
		respondWithServiceError(w, a.logger, "Failed to create verification link", err)
		return
	}
	msg, err := a.renderer.Verification(user.Email, user.DisplayName(), a.linkURL("verify-email", link), a.accounts.Config().TokenTTL)
	if err != nil {
		a.logger.Error("Failed to render verification email", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to prepare verification email")
		return
	}
	if err = a.send(r.Context(), "verify_email", msg); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "Failed to send verification link. Please try again later.")
		return
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "A verification link has been sent to your email."})
}

func (a *AccountsAPI) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	link, ok := linkFromPath(r.URL.Path, "/api/accounts/verify-email/")
	if !ok {
		respondWithError(w, http.StatusBadRequest, accounts.ErrInvalidVerificationLink.Message)
		return
	}
	if _, err := a.accounts.VerifyEmailLink(r.Context(), link); err != nil {
		respondWithServiceError(w, a.logger, "Verification failed", err)
		return
	}
	clearPending(session.FromContext(r.Context()))
	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Email verified successfully! You can now log in."})
}

// LoginRequest is the body of POST /api/accounts/login. Username may also be an email.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

func (a *AccountsAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if currentUser(r) != nil {
		respondWithError(w, http.StatusConflict, msgAlreadySignedIn)
		return
	}

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, accounts.ErrMissingFields.Message)
		return
	}

	user, err := a.accounts.Authenticate(r.Context(), req.Username, req.Password)
	a.metrics.logins.WithLabelValues(result(err)).Inc()
	if err != nil {
		var accErr *accounts.Error
		if errors.As(err, &accErr) {
			a.logger.Info("Failed login", "identifier", req.Username)
			respondWithError(w, http.StatusUnauthorized, accErr.Message)
			return
		}
		respondWithServiceError(w, a.logger, "Login failed", err)
		return
	}

	sess := session.FromContext(r.Context())
	if err = sess.Login(user.ID); err != nil {
		a.logger.Error("Failed to start session", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	sess.SetPersistent(req.RememberMe)
	clearPending(sess)

	respondWithJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Welcome back, %s!", user.DisplayName()),
		User:    user,
	})
}

func (a *AccountsAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	user := currentUser(r)
	session.FromContext(r.Context()).Destroy()
	if user == nil {
		respondWithJSON(w, http.StatusOK, MessageResponse{Message: "You have been logged out."})
		return
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Goodbye, %s! You have been logged out.", user.Username),
	})
}

// ProfileResponse is returned by the profile endpoints.
type ProfileResponse struct {
	Message string            `json:"message,omitempty"`
	User    *accounts.User    `json:"user"`
	Profile *accounts.Profile `json:"profile"`
}

func (a *AccountsAPI) handleProfile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	switch r.Method {
	case http.MethodGet:
		profile, err := a.accounts.Store().Profile(r.Context(), user.ID)
		if err != nil {
			respondWithServiceError(w, a.logger, "Failed to load profile", err)
			return
		}
		respondWithJSON(w, http.StatusOK, ProfileResponse{User: user, Profile: profile})
	case http.MethodPut:
		var upd accounts.ProfileUpdate
		if err := decodeJSON(w, r, &upd); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		updated, err := a.accounts.UpdateProfile(r.Context(), user.ID, upd)
		if err != nil {
			respondWithServiceError(w, a.logger, "Failed to update profile", err)
			return
		}
		profile, err := a.accounts.Store().Profile(r.Context(), user.ID)
		if err != nil {
			respondWithServiceError(w, a.logger, "Failed to load profile", err)
			return
		}
		respondWithJSON(w, http.StatusOK, ProfileResponse{Message: "Profile updated successfully!", User: updated, Profile: profile})
	default:
		w.Header().Set("Allow", "GET, PUT")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *AccountsAPI) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		respondWithError(w, http.StatusBadRequest, accounts.ErrMissingFields.Message)
		return
	}

	// The response never reveals whether the address is registered.
	user, link, err := a.accounts.RequestPasswordReset(r.Context(), email)
	switch {
	case errors.Is(err, accounts.ErrUserNotFound):
		a.logger.Debug("Password reset requested for unknown email")
	case err != nil:
		a.logger.Error("Failed to create password reset link", "error", err)
	default:
		msg, err := a.renderer.PasswordReset(user.Email, user.DisplayName(), a.linkURL("password-reset-confirm", link), a.accounts.Config().TokenTTL)
		if err != nil {
			a.logger.Error("Failed to render password reset email", "error", err)
			break
		}
		_ = a.send(r.Context(), "password_reset", msg)
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{Message: msgResetRequested})
}

func (a *AccountsAPI) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	link, ok := linkFromPath(r.URL.Path, "/api/accounts/password-reset-confirm/")
	if !ok {
		respondWithError(w, http.StatusBadRequest, accounts.ErrInvalidResetLink.Message)
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := a.accounts.CheckPasswordResetLink(r.Context(), link)
		if err != nil {
			respondWithServiceError(w, a.logger, "Failed to check reset link", err)
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]any{"valid": true, "username": user.Username})
	case http.MethodPost:
		var req struct {
			Password1 string `json:"new_password1"`
			Password2 string `json:"new_password2"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if _, err := a.accounts.ResetPassword(r.Context(), link, req.Password1, req.Password2); err != nil {
			respondWithServiceError(w, a.logger, "Password reset failed", err)
			return
		}
		respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Password reset successful! You can now log in."})
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *AccountsAPI) handleCheckUsername(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithJSON(w, http.StatusMethodNotAllowed, accounts.Availability{Available: false, Message: "Invalid request"})
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, accounts.Availability{Available: false, Message: "Invalid request"})
		return
	}
	res, err := a.accounts.UsernameAvailable(r.Context(), req.Username)
	if err != nil {
		respondWithServiceError(w, a.logger, "Failed to check username", err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (a *AccountsAPI) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithJSON(w, http.StatusMethodNotAllowed, accounts.Availability{Available: false, Message: "Invalid request"})
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, accounts.Availability{Available: false, Message: "Invalid request"})
		return
	}
	res, err := a.accounts.EmailAvailable(r.Context(), req.Email)
	if err != nil {
		respondWithServiceError(w, a.logger, "Failed to check email", err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (a *AccountsAPI) sendOTP(ctx context.Context, user *accounts.User, code string) error {
	msg, err := a.renderer.OTP(user.Email, user.DisplayName(), code, a.accounts.Config().OTPTTL)
	if err != nil {
		a.logger.Error("Failed to render verification code email", "error", err)
		return err
	}
	return a.send(ctx, "otp", msg)
}

func (a *AccountsAPI) send(ctx context.Context, template string, msg mailer.Message) error {
	err := a.mailer.Send(ctx, msg)
	a.metrics.emails.WithLabelValues(template, result(err)).Inc()
	if err != nil {
		a.logger.Error("Failed to send email", "template", template, "to", msg.To, "error", err)
	}
	return err
}

func (a *AccountsAPI) linkURL(route string, link accounts.Link) string {
	return fmt.Sprintf("%s/api/accounts/%s/%s/%s", a.baseURL, route, link.UID, link.Token)
}

// linkFromPath extracts the uidb64 and token segments following prefix.
func linkFromPath(path, prefix string) (accounts.Link, bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return accounts.Link{}, false
	}
	return accounts.Link{UID: parts[0], Token: parts[1]}, true
}
