package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const accountsSchema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT    NOT NULL UNIQUE,
    email         TEXT    NOT NULL UNIQUE,
    first_name    TEXT    NOT NULL DEFAULT '',
    last_name     TEXT    NOT NULL DEFAULT '',
    password_hash TEXT    NOT NULL,
    is_active     INTEGER NOT NULL DEFAULT 0,
    is_staff      INTEGER NOT NULL DEFAULT 0,
    date_joined   INTEGER NOT NULL,
    last_login    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS profiles (
    user_id            INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    email_verified     INTEGER NOT NULL DEFAULT 0,
    otp_hash           TEXT    NOT NULL DEFAULT '',
    otp_created_at     INTEGER NOT NULL DEFAULT 0,
    otp_attempts       INTEGER NOT NULL DEFAULT 0,
    newsletter         INTEGER NOT NULL DEFAULT 0,
    projects_generated INTEGER NOT NULL DEFAULT 0
);
`

// SetupSchema creates the users and profiles tables. It is idempotent.
func SetupSchema(db *sql.DB) error {
	if _, err := db.Exec(accountsSchema); err != nil {
		return fmt.Errorf("could not create accounts schema: %w", err)
	}
	return nil
}

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsStaff      bool      `json:"is_staff"`
	DateJoined   time.Time `json:"date_joined"`
	LastLogin    time.Time `json:"last_login"`
}

// DisplayName is the first name when set, the username otherwise.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

// Profile holds the per-user verification state and counters.
type Profile struct {
	UserID            int64     `json:"user_id"`
	EmailVerified     bool      `json:"email_verified"`
	OTPHash           string    `json:"-"`
	OTPCreatedAt      time.Time `json:"-"`
	OTPAttempts       int       `json:"-"`
	Newsletter        bool      `json:"newsletter"`
	ProjectsGenerated int       `json:"projects_generated"`
}

// NewUser is the input to Store.CreateUser.
type NewUser struct {
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IsActive     bool
	IsStaff      bool
	Newsletter   bool
	JoinedAt     time.Time
}

// Store is the SQL persistence layer for users and profiles.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, username, email, first_name, last_name, password_hash, is_active, is_staff, date_joined, last_login`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var joined, lastLogin int64
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.IsActive, &u.IsStaff, &joined, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.DateJoined = fromUnix(joined)
	u.LastLogin = fromUnix(lastLogin)
	return &u, nil
}

// CreateUser inserts a user and its profile in a single transaction.
func (s *Store) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var id int64
	err = tx.QueryRowContext(ctx, `
        INSERT INTO users (username, email, first_name, last_name, password_hash, is_active, is_staff, date_joined)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		nu.Username, nu.Email, nu.FirstName, nu.LastName, nu.PasswordHash, nu.IsActive, nu.IsStaff, toUnix(nu.JoinedAt)).Scan(&id)
	if err != nil {
		return nil, uniqueViolation(err)
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO profiles (user_id, email_verified, newsletter) VALUES (?, ?, ?)`,
		id, nu.IsActive, nu.Newsletter); err != nil {
		return nil, fmt.Errorf("failed to insert profile: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user creation: %w", err)
	}

	return &User{
		ID:           id,
		Username:     nu.Username,
		Email:        nu.Email,
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		PasswordHash: nu.PasswordHash,
		IsActive:     nu.IsActive,
		IsStaff:      nu.IsStaff,
		DateJoined:   fromUnix(toUnix(nu.JoinedAt)),
	}, nil
}

// uniqueViolation turns the driver's constraint error into the matching user-facing error.
// Both sqlite drivers report "UNIQUE constraint failed: table.column".
func uniqueViolation(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: users.username"):
		return ErrUsernameTaken
	case strings.Contains(msg, "UNIQUE constraint failed: users.email"):
		return ErrEmailTaken
	}
	return fmt.Errorf("failed to insert user: %w", err)
}

func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
	return exists, err
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email).Scan(&exists)
	return exists, err
}

// UpdateDetails overwrites the editable profile fields of a user.
func (s *Store) UpdateDetails(ctx context.Context, id int64, firstName, lastName, email string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET first_name = ?, last_name = ?, email = ? WHERE id = ?`,
		firstName, lastName, email, id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.email") {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return expectOneRow(res)
}

func (s *Store) SetPassword(ctx context.Context, id int64, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectOneRow(res)
}

func (s *Store) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, toUnix(at), id)
	return err
}

// SetStaff grants or revokes staff status.
func (s *Store) SetStaff(ctx context.Context, id int64, staff bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_staff = ? WHERE id = ?`, staff, id)
	if err != nil {
		return fmt.Errorf("failed to update staff flag: %w", err)
	}
	return expectOneRow(res)
}

func (s *Store) Profile(ctx context.Context, userID int64) (*Profile, error) {
	var p Profile
	var otpCreated int64
	err := s.db.QueryRowContext(ctx, `
        SELECT user_id, email_verified, otp_hash, otp_created_at, otp_attempts, newsletter, projects_generated
        FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.EmailVerified, &p.OTPHash, &otpCreated, &p.OTPAttempts, &p.Newsletter, &p.ProjectsGenerated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	p.OTPCreatedAt = fromUnix(otpCreated)
	return &p, nil
}

// SaveOTP replaces any outstanding code and resets the attempt counter.
func (s *Store) SaveOTP(ctx context.Context, userID int64, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET otp_hash = ?, otp_created_at = ?, otp_attempts = 0 WHERE user_id = ?`,
		hash, toUnix(at), userID)
	if err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}
	return expectOneRow(res)
}

// RecordOTPAttempt reserves one of limit attempts for the outstanding code and
// returns its number. Once limit attempts are used it returns ErrOTPLocked.
func (s *Store) RecordOTPAttempt(ctx context.Context, userID int64, limit int) (int, error) {
	var attempt int
	err := s.db.QueryRowContext(ctx, `
        UPDATE profiles SET otp_attempts = otp_attempts + 1
        WHERE user_id = ? AND otp_attempts < ?
        RETURNING otp_attempts`, userID, limit).Scan(&attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrOTPLocked
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record otp attempt: %w", err)
	}
	return attempt, nil
}

// CompleteVerification activates the account, marks the email verified and clears any code.
// The otpHash guard makes a code single-use even under concurrent submissions; pass ""
// to skip it (link based verification).
func (s *Store) CompleteVerification(ctx context.Context, userID int64, otpHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	query := `UPDATE profiles SET email_verified = 1, otp_hash = '', otp_created_at = 0, otp_attempts = 0 WHERE user_id = ?`
	args := []any{userID}
	if otpHash != "" {
		query += ` AND otp_hash = ?`
		args = append(args, otpHash)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if otpHash != "" {
			return ErrOTPInvalid
		}
		return ErrUserNotFound
	}

	if _, err = tx.ExecContext(ctx, `UPDATE users SET is_active = 1 WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit verification: %w", err)
	}
	return nil
}

func (s *Store) IncrementProjects(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET projects_generated = projects_generated + 1 WHERE user_id = ?`, userID)
	return err
}

func (s *Store) SetNewsletter(ctx context.Context, userID int64, subscribed bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET newsletter = ? WHERE user_id = ?`, subscribed, userID)
	return err
}

func expectOneRow(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
