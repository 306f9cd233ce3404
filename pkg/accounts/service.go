package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config holds the tunables of the account flows.
type Config struct {
	// OTPLength is the number of digits in an emailed verification code.
	OTPLength int

	// OTPTTL is how long a code stays valid after it was issued.
	OTPTTL time.Duration

	// OTPResendInterval is the minimum time between two codes for the same user.
	OTPResendInterval time.Duration

	// OTPMaxAttempts locks a code after this many wrong guesses.
	OTPMaxAttempts int

	MinPasswordLength int
	MinUsernameLength int

	// BcryptCost is passed to bcrypt.GenerateFromPassword.
	BcryptCost int

	// TokenSecret signs password reset and verification links.
	TokenSecret string

	// TokenTTL is the lifetime of a password reset or verification link.
	TokenTTL time.Duration
}

// DefaultConfig returns the defaults used by the web application.
// TokenSecret is left empty and must be filled in by the caller.
func DefaultConfig() Config {
	return Config{
		OTPLength:         6,
		OTPTTL:            10 * time.Minute,
		OTPResendInterval: 2 * time.Minute,
		OTPMaxAttempts:    5,
		MinPasswordLength: 8,
		MinUsernameLength: 3,
		BcryptCost:        bcrypt.DefaultCost,
		TokenTTL:          72 * time.Hour,
	}
}

// Service implements the account flows on top of a Store.
type Service struct {
	store  *Store
	config Config
	logger *slog.Logger
	now    func() time.Time

	// dummyHash is compared against on unknown usernames so that lookups
	// for missing and existing users take similar time.
	dummyHash []byte
}

func NewService(store *Store, config Config, logger *slog.Logger) (*Service, error) {
	if config.TokenSecret == "" {
		return nil, errors.New("accounts: token secret must not be empty")
	}
	if config.OTPLength <= 0 || config.OTPLength > 18 {
		return nil, fmt.Errorf("accounts: invalid otp length %d", config.OTPLength)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("accounts: failed to prepare dummy hash: %w", err)
	}
	return &Service{
		store:     store,
		config:    config,
		logger:    logger,
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) Config() Config {
	return s.config
}

// RegisterRequest carries the fields of the sign-up form.
type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Password1   string `json:"password1"`
	Password2   string `json:"password2"`
	TermsAgreed bool   `json:"terms_agreed"`
	Newsletter  bool   `json:"newsletter_subscribe"`
}

// Register validates the request, creates an inactive user and issues its first code.
// The plain code is returned so the caller can email it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, string, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if req.Username == "" || req.Email == "" || req.Password1 == "" || req.Password2 == "" {
		return nil, "", ErrMissingFields
	}
	if err := s.validatePassword(req.Password1, req.Password2); err != nil {
		return nil, "", err
	}
	if !req.TermsAgreed {
		return nil, "", ErrTermsNotAccepted
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, "", ErrInvalidEmail
	}

	if taken, err := s.store.UsernameExists(ctx, req.Username); err != nil {
		return nil, "", fmt.Errorf("failed to check username: %w", err)
	} else if taken {
		return nil, "", ErrUsernameTaken
	}
	if taken, err := s.store.EmailExists(ctx, req.Email); err != nil {
		return nil, "", fmt.Errorf("failed to check email: %w", err)
	} else if taken {
		return nil, "", ErrEmailTaken
	}

	hash, err := s.hashPassword(req.Password1)
	if err != nil {
		return nil, "", err
	}

	user, err := s.store.CreateUser(ctx, NewUser{
		Username:     req.Username,
		Email:        req.Email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
		Newsletter:   req.Newsletter,
		JoinedAt:     s.now(),
	})
	if err != nil {
		return nil, "", err
	}

	code, err := s.IssueOTP(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("Registered new user", "user_id", user.ID, "username", user.Username)
	return user, code, nil
}

// CreateActiveUser bypasses email verification. It backs the createuser command.
func (s *Service) CreateActiveUser(ctx context.Context, username, email, password string, staff bool) (*User, error) {
	if username == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if err := s.validatePassword(password, password); err != nil {
		return nil, err
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}
	return s.store.CreateUser(ctx, NewUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		IsStaff:      staff,
		JoinedAt:     s.now(),
	})
}

// Authenticate checks credentials. An identifier containing '@' is treated as an email.
// Inactive accounts never authenticate.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	var (
		user *User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.store.UserByEmail(ctx, identifier)
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrUnknownEmailLogin
		}
	} else {
		user, err = s.store.UserByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidLogin
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil || !user.IsActive {
		return nil, ErrInvalidLogin
	}

	now := s.now()
	if err = s.store.RecordLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = fromUnix(toUnix(now))
	}
	return user, nil
}

// ProfileUpdate carries the editable account fields.
type ProfileUpdate struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Newsletter *bool  `json:"newsletter,omitempty"`
}

func (s *Service) UpdateProfile(ctx context.Context, userID int64, upd ProfileUpdate) (*User, error) {
	email := strings.TrimSpace(upd.Email)
	if email == "" {
		return nil, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if err := s.store.UpdateDetails(ctx, userID, strings.TrimSpace(upd.FirstName), strings.TrimSpace(upd.LastName), email); err != nil {
		return nil, err
	}
	if upd.Newsletter != nil {
		if err := s.store.SetNewsletter(ctx, userID, *upd.Newsletter); err != nil {
			return nil, fmt.Errorf("failed to update newsletter preference: %w", err)
		}
	}
	return s.store.UserByID(ctx, userID)
}

// Availability is the answer to a username or email availability check.
type Availability struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

func (s *Service) UsernameAvailable(ctx context.Context, username string) (Availability, error) {
	username = strings.TrimSpace(username)
	if len(username) < s.config.MinUsernameLength {
		return Availability{Available: false, Message: "Username too short"}, nil
	}
	taken, err := s.store.UsernameExists(ctx, username)
	if err != nil {
		return Availability{}, err
	}
	if taken {
		return Availability{Available: false, Message: "Username already taken"}, nil
	}
	return Availability{Available: true, Message: "Available"}, nil
}

func (s *Service) EmailAvailable(ctx context.Context, email string) (Availability, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return Availability{Available: false, Message: "Invalid email format"}, nil
	}
	taken, err := s.store.EmailExists(ctx, email)
	if err != nil {
		return Availability{}, err
	}
	if taken {
		return Availability{Available: false, Message: "Email already registered"}, nil
	}
	return Availability{Available: true, Message: "Available"}, nil
}

func (s *Service) validatePassword(p1, p2 string) error {
	if p1 != p2 {
		return ErrPasswordMismatch
	}
	if len(p1) < s.config.MinPasswordLength {
		return ErrPasswordTooShort.withMessage("Password must be at least %d characters long.", s.config.MinPasswordLength)
	}
	if len(p1) > 72 {
		return ErrPasswordTooLong
	}
	return nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
