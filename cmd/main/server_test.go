package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/CTAG07/webgen/pkg/accounts"
	"github.com/CTAG07/webgen/pkg/mailer"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server  *Server
	http    *httptest.Server
	mail    *mailer.MemoryMailer
	cm      *ConfigManager
	actions chan string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(dir string) *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = dir
	cfg.Server.DatabasePath = filepath.Join(dir, "webgen.db")
	cfg.Accounts.TokenSecret = "test-secret"
	cfg.Accounts.BcryptCost = 4
	cfg.Session.CleanupMinutes = 0
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir)
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "config.json")
	require.NoError(t, writeConfig(path, cfg))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	cm.SetLogger(discardLogger())

	db, err := openDatabase(cfg.Server.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		mail:    &mailer.MemoryMailer{},
		cm:      cm,
		actions: make(chan string, 1),
	}
	env.server, err = NewServer(cm, discardLogger(), db, env.actions, env.mail)
	require.NoError(t, err)
	t.Cleanup(env.server.Close)

	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	return env
}

// client returns an HTTP client with its own cookie jar, i.e. a separate browser.
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (e *testEnv) do(t *testing.T, c *http.Client, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func (e *testEnv) createUser(t *testing.T, username, password string, staff bool) *accounts.User {
	t.Helper()
	u, err := e.server.accounts.CreateActiveUser(context.Background(), username, username+"@example.com", password, staff)
	require.NoError(t, err)
	return u
}

func (e *testEnv) login(t *testing.T, username, password string) *http.Client {
	t.Helper()
	c := e.client(t)
	resp, body := e.do(t, c, http.MethodPost, "/api/accounts/login", LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode, "login failed: %v", body)
	return c
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

func (e *testEnv) lastCode(t *testing.T) string {
	t.Helper()
	msg, ok := e.mail.Last()
	require.True(t, ok, "no email sent")
	code := codePattern.FindString(msg.Text)
	require.NotEmpty(t, code, "no code in %q", msg.Text)
	return code
}

func (e *testEnv) lastLinkPath(t *testing.T, route string) string {
	t.Helper()
	msg, ok := e.mail.Last()
	require.True(t, ok, "no email sent")
	re := regexp.MustCompile(`https?://\S+/api/accounts/` + route + `/\S+`)
	raw := re.FindString(msg.Text)
	require.NotEmpty(t, raw, "no %s link in %q", route, msg.Text)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Path
}

func registration(username string) accounts.RegisterRequest {
	return accounts.RegisterRequest{
		Username:    username,
		Email:       username + "@example.com",
		FirstName:   "Ada",
		Password1:   "correct-horse",
		Password2:   "correct-horse",
		TermsAgreed: true,
	}
}

func TestRegisterVerifyLoginLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	resp, body := env.do(t, c, http.MethodPost, "/api/accounts/register", registration("ada"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "Registration successful! Please check your email for the verification code.", body["message"])

	msg, ok := env.mail.Last()
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Your WebGen Verification Code", msg.Subject)
	code := env.lastCode(t)

	resp, body = env.do(t, c, http.MethodGet, "/api/accounts/verify-otp", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ada@example.com", body["email"])
	assert.Equal(t, false, body["can_resend"])

	// An unverified account cannot sign in yet.
	resp, body = env.do(t, env.client(t), http.MethodPost, "/api/accounts/login", LoginRequest{Username: "ada", Password: "correct-horse"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid username/email or password.", body["error"])

	wrong := "111111"
	if code == wrong {
		wrong = "222222"
	}
	resp, body = env.do(t, c, http.MethodPost, "/api/accounts/verify-otp", map[string]string{"otp": wrong})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid verification code. Please try again.", body["error"])

	resp, body = env.do(t, c, http.MethodPost, "/api/accounts/verify-otp", map[string]string{"otp": "12ab"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Please enter a valid 6-digit code.", body["error"])

	resp, body = env.do(t, c, http.MethodPost, "/api/accounts/verify-otp", map[string]string{"otp": code})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Email verified successfully! You can now log in and start creating websites!", body["message"])

	// The pending registration is gone from the session.
	resp, body = env.do(t, c, http.MethodGet, "/api/accounts/verify-otp", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, msgSessionExpired, body["error"])

	resp, body = env.do(t, c, http.MethodPost, "/api/accounts/login", LoginRequest{Username: "ada@example.com", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Welcome back, Ada!", body["message"])

	resp, body = env.do(t, c, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["authenticated"])

	resp, _ = env.do(t, c, http.MethodPost, "/api/accounts/register", registration("other"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, c, http.MethodPost, "/api/accounts/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Goodbye, ada! You have been logged out.", body["message"])

	_, body = env.do(t, c, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, false, body["authenticated"])
}

func TestRegister_ValidationMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	tests := []struct {
		name   string
		mutate func(*accounts.RegisterRequest)
		want   string
	}{
		{"missing", func(r *accounts.RegisterRequest) { r.Email = "" }, "Please fill in all required fields."},
		{"mismatch", func(r *accounts.RegisterRequest) { r.Password2 = "different-one" }, "Passwords do not match."},
		{"short", func(r *accounts.RegisterRequest) { r.Password1, r.Password2 = "short", "short" }, "Password must be at least 8 characters long."},
		{"terms", func(r *accounts.RegisterRequest) { r.TermsAgreed = false }, "You must agree to the Terms of Service."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := registration("grace")
			tt.mutate(&req)
			resp, body := env.do(t, c, http.MethodPost, "/api/accounts/register", req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.want, body["error"])
		})
	}

	env.createUser(t, "grace", "correct-horse", false)
	resp, body := env.do(t, c, http.MethodPost, "/api/accounts/register", registration("grace"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Username already exists.", body["error"])

	req := registration("hopper")
	req.Email = "grace@example.com"
	_, body = env.do(t, c, http.MethodPost, "/api/accounts/register", req)
	assert.Equal(t, "Email already registered.", body["error"])
	assert.Empty(t, env.mail.Sent())
}

func TestVerifyOTP_SessionWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	resp, _ := env.do(t, env.client(t), http.MethodPost, "/api/accounts/verify-otp", map[string]string{"otp": "123456"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no pending registration in a fresh session")

	resp, _ = env.do(t, c, http.MethodPost, "/api/accounts/register", registration("ada"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	code := env.lastCode(t)

	env.server.accountsAPI.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	resp, body := env.do(t, c, http.MethodPost, "/api/accounts/verify-otp", map[string]string{"otp": code})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Session expired. Please register again.", body["error"])

	env.server.accountsAPI.now = time.Now
	_, body = env.do(t, c, http.MethodPost, "/api/accounts/verify-otp", map[string]string{"otp": code})
	assert.Equal(t, "Session expired. Please register again.", body["error"], "expired session keys are cleared")
}

func TestResendOTP_RateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	resp, _ := env.do(t, c, http.MethodPost, "/api/accounts/register", registration("ada"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, c, http.MethodPost, "/api/accounts/resend-otp", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Please wait 2 minutes before requesting a new code.", body["error"])
	assert.Equal(t, "120", resp.Header.Get("Retry-After"))
	assert.Len(t, env.mail.Sent(), 1)
	assert.Zero(t, testutil.ToFloat64(env.server.metrics.rateLimited), "the resend cool-down is not a rate limiter rejection")
}

func TestResendOTP_MailFailure(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Accounts.OTPResendMinutes = 1 })
	c := env.client(t)
	resp, _ := env.do(t, c, http.MethodPost, "/api/accounts/register", registration("ada"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	later := time.Now().Add(2 * time.Minute)
	env.server.accounts.SetClock(func() time.Time { return later })
	env.mail.Err = io.ErrUnexpectedEOF
	resp, body := env.do(t, c, http.MethodPost, "/api/accounts/resend-otp", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "Failed to send verification code. Please try again later.", body["error"])
}

func TestVerificationLink(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)
	resp, _ := env.do(t, c, http.MethodPost, "/api/accounts/register", registration("ada"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, c, http.MethodPost, "/api/accounts/verification-link", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	path := env.lastLinkPath(t, "verify-email")

	resp, body = env.do(t, env.client(t), http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Email verified successfully! You can now log in.", body["message"])

	env.login(t, "ada", "correct-horse")

	resp, body = env.do(t, c, http.MethodGet, "/api/accounts/verify-email/bad/link", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid verification link.", body["error"])
}

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "ada", "correct-horse", false)
	c := env.client(t)

	resp, body := env.do(t, c, http.MethodPost, "/api/accounts/password-reset", map[string]string{"email": "nobody@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, msgResetRequested, body["message"])
	assert.Empty(t, env.mail.Sent())

	resp, body = env.do(t, c, http.MethodPost, "/api/accounts/password-reset", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, msgResetRequested, body["message"], "known and unknown emails get the same answer")
	path := env.lastLinkPath(t, "password-reset-confirm")

	resp, body = env.do(t, c, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ada", body["username"])

	resp, body = env.do(t, c, http.MethodPost, path, map[string]string{"new_password1": "new-password-1", "new_password2": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Passwords do not match.", body["error"])

	resp, body = env.do(t, c, http.MethodPost, path, map[string]string{"new_password1": "new-password-1", "new_password2": "new-password-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Password reset successful! You can now log in.", body["message"])

	resp, body = env.do(t, c, http.MethodPost, path, map[string]string{"new_password1": "another-pass", "new_password2": "another-pass"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "reset links are single use")
	assert.Equal(t, "Invalid password reset link.", body["error"])

	env.login(t, "ada", "new-password-1")
}

func TestAvailabilityChecks(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "ada", "correct-horse", false)
	c := env.client(t)

	tests := []struct {
		path  string
		body  map[string]string
		avail bool
		msg   string
	}{
		{"/api/accounts/check-username", map[string]string{"username": "ab"}, false, "Username too short"},
		{"/api/accounts/check-username", map[string]string{"username": "ada"}, false, "Username already taken"},
		{"/api/accounts/check-username", map[string]string{"username": "grace"}, true, "Available"},
		{"/api/accounts/check-email", map[string]string{"email": "nope"}, false, "Invalid email format"},
		{"/api/accounts/check-email", map[string]string{"email": "ada@example.com"}, false, "Email already registered"},
		{"/api/accounts/check-email", map[string]string{"email": "grace@example.com"}, true, "Available"},
	}
	for _, tt := range tests {
		resp, body := env.do(t, c, http.MethodPost, tt.path, tt.body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, tt.avail, body["available"], "%s %v", tt.path, tt.body)
		assert.Equal(t, tt.msg, body["message"], "%s %v", tt.path, tt.body)
	}

	resp, body := env.do(t, c, http.MethodGet, "/api/accounts/check-username", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "Invalid request", body["message"])
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "ada", "correct-horse", false)

	resp, _ := env.do(t, env.client(t), http.MethodGet, "/api/accounts/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c := env.login(t, "ada", "correct-horse")
	resp, body := env.do(t, c, http.MethodPut, "/api/accounts/profile", map[string]any{
		"first_name": "Ada", "last_name": "Lovelace", "email": "ada@lovelace.dev", "newsletter": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Profile updated successfully!", body["message"])

	_, body = env.do(t, c, http.MethodGet, "/api/accounts/profile", nil)
	user := body["user"].(map[string]any)
	profile := body["profile"].(map[string]any)
	assert.Equal(t, "Lovelace", user["last_name"])
	assert.Equal(t, "ada@lovelace.dev", user["email"])
	assert.Equal(t, true, profile["newsletter"])
}

func TestLogin_RememberMe(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "ada", "correct-horse", false)

	cookieMaxAge := func(remember bool) int {
		body, _ := json.Marshal(LoginRequest{Username: "ada", Password: "correct-horse", RememberMe: remember})
		resp, err := http.Post(env.http.URL+"/api/accounts/login", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		for _, c := range resp.Cookies() {
			if c.Name == "webgen_session" {
				return c.MaxAge
			}
		}
		t.Fatal("no session cookie")
		return 0
	}
	assert.Equal(t, 0, cookieMaxAge(false), "browser session cookie")
	assert.Equal(t, int((30 * 24 * time.Hour).Seconds()), cookieMaxAge(true))
}

func TestProjects_Lifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "ada", "correct-horse", false)
	env.createUser(t, "eve", "correct-horse", false)
	ada := env.login(t, "ada", "correct-horse")
	eve := env.login(t, "eve", "correct-horse")

	resp, _ := env.do(t, env.client(t), http.MethodPost, "/api/projects", GenerateRequest{Prompt: "todo list"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, ada, http.MethodPost, "/api/projects", GenerateRequest{Prompt: ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, body = env.do(t, ada, http.MethodPost, "/api/projects", GenerateRequest{Prompt: "A todo list to manage my team's tasks"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	project := body["project"].(map[string]any)
	id := project["id"].(string)
	assert.Equal(t, "task", project["kind"])
	assert.NotEmpty(t, body["files"])

	resp, body = env.do(t, ada, http.MethodGet, "/api/projects/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])

	resp, _ = env.do(t, eve, http.MethodGet, "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "projects are owner scoped")
	resp, _ = env.do(t, eve, http.MethodDelete, "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/api/projects/"+id+"/download", nil)
	require.NoError(t, err)
	dl, err := ada.Do(req)
	require.NoError(t, err)
	archive, err := io.ReadAll(dl.Body)
	_ = dl.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "application/zip", dl.Header.Get("Content-Type"))
	assert.Contains(t, dl.Header.Get("Content-Disposition"), ".zip")
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "app.py")
	assert.Contains(t, names, "models.py")

	_, body = env.do(t, ada, http.MethodGet, "/api/accounts/profile", nil)
	assert.Equal(t, float64(1), body["profile"].(map[string]any)["projects_generated"])

	req, err = http.NewRequest(http.MethodGet, env.http.URL+"/api/projects", nil)
	require.NoError(t, err)
	listResp, err := ada.Do(req)
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	_ = listResp.Body.Close()
	assert.Len(t, list, 1)

	resp, _ = env.do(t, ada, http.MethodDelete, "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, ada, http.MethodGet, "/api/projects/"+id+"/download", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, ada, http.MethodGet, "/api/projects/"+id+"/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGeneratePreview(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "ada", "correct-horse", false)
	c := env.login(t, "ada", "correct-horse")

	resp, body := env.do(t, c, http.MethodPost, "/api/generate/preview", GenerateRequest{Prompt: "an online shop with a shopping cart"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "ecommerce", body["kind"])
	var paths []string
	for _, f := range body["files"].([]any) {
		paths = append(paths, f.(map[string]any)["path"].(string))
	}
	assert.Contains(t, paths, "routes.py")
	assert.Contains(t, paths, "init_db.py")

	_, body = env.do(t, c, http.MethodPost, "/api/generate/preview", GenerateRequest{Prompt: "anything", Kind: "blog"})
	assert.Equal(t, "blog", body["kind"])

	resp, _ = env.do(t, c, http.MethodPost, "/api/generate/preview", GenerateRequest{Prompt: "anything", Kind: "spaceship"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	n, err := env.server.projects.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "preview does not persist anything")

	resp, _ = env.do(t, env.client(t), http.MethodGet, "/api/generate/archetypes", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerAPI_StaffOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createUser(t, "ada", "correct-horse", false)
	env.createUser(t, "root", "correct-horse", true)
	user := env.login(t, "ada", "correct-horse")
	staff := env.login(t, "root", "correct-horse")

	resp, _ := env.do(t, env.client(t), http.MethodGet, "/api/server/config", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = env.do(t, user, http.MethodGet, "/api/server/config", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := env.do(t, staff, http.MethodGet, "/api/server/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accountsSection := body["accounts_config"].(map[string]any)
	assert.Equal(t, redactedValue, accountsSection["token_secret"])

	cfg := env.cm.Get()
	cfg.Server.SiteName = "Site Builder"
	cfg.Accounts.TokenSecret = redactedValue
	resp, body = env.do(t, staff, http.MethodPut, "/api/server/config", cfg)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Site Builder", env.cm.Get().Server.SiteName)
	assert.Equal(t, "test-secret", env.cm.Get().Accounts.TokenSecret, "redacted secret is kept")

	reloaded, err := LoadConfig(env.cm.Path())
	require.NoError(t, err)
	assert.Equal(t, "Site Builder", reloaded.Server.SiteName)

	resp, _ = env.do(t, staff, http.MethodGet, "/api/server/version", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, staff, http.MethodPost, "/api/server/restart", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	select {
	case action := <-env.actions:
		assert.Equal(t, actionRestart, action)
	case <-time.After(2 * time.Second):
		t.Fatal("restart action was not sent")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.client(t)

	resp, body := env.do(t, c, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, err := c.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "webgen_registrations_total")
	assert.Contains(t, string(raw), "webgen_projects_stored")

	resp, _ = env.do(t, c, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccountsRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerSecond = 0.01
		cfg.RateLimit.Burst = 2
	})
	c := env.client(t)

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, c, http.MethodPost, "/api/accounts/check-username", map[string]string{"username": "someone"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := env.do(t, c, http.MethodPost, "/api/accounts/check-username", map[string]string{"username": "someone"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too many requests. Please slow down.", body["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.server.metrics.rateLimited))

	resp, _ = env.do(t, c, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "only account routes are limited")
}

// send issues a request with a raw body and returns the raw response body.
func (e *testEnv) send(t *testing.T, c *http.Client, method, path, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestTemplateAPI(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, func(cfg *Config) { cfg.Generator.TemplateDir = dir })
	env.createUser(t, "ada", "correct-horse", false)
	env.createUser(t, "root", "correct-horse", true)
	user := env.login(t, "ada", "correct-horse")
	staff := env.login(t, "root", "correct-horse")

	resp, _ := env.do(t, user, http.MethodGet, "/api/templates", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = env.do(t, user, http.MethodPost, "/api/templates/refresh", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := env.send(t, staff, http.MethodGet, "/api/templates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list TemplateList
	require.NoError(t, json.Unmarshal([]byte(raw), &list))
	assert.Equal(t, dir, list.OverrideDir)
	assert.Contains(t, list.Templates, "models.py.tmpl")

	t.Run("test renders a string against sample data", func(t *testing.T) {
		resp, out := env.send(t, staff, http.MethodPost, "/api/templates/test?kind=task", `[[ .App.Title ]]: [[ .Prompt ]] {{ jinja }}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, out)
		assert.Equal(t, "Task Manager: A sample task manager {{ jinja }}", out)

		resp, _ = env.send(t, staff, http.MethodPost, "/api/templates/test", `[[ if ]]`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp, _ = env.send(t, staff, http.MethodPost, "/api/templates/test?kind=spaceship", `x`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("preview renders a loaded template", func(t *testing.T) {
		resp, out := env.send(t, staff, http.MethodGet, "/api/templates/preview?name=entity_list.html.tmpl&kind=blog", "")
		require.Equal(t, http.StatusOK, resp.StatusCode, out)
		assert.NotEmpty(t, out)

		resp, _ = env.send(t, staff, http.MethodGet, "/api/templates/preview?name=nope.tmpl", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp, _ = env.send(t, staff, http.MethodGet, "/api/templates/preview", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	preview := func() string {
		resp, out := env.send(t, staff, http.MethodGet, "/api/templates/preview?name=requirements.txt.tmpl", "")
		require.Equal(t, http.StatusOK, resp.StatusCode, out)
		return out
	}
	assert.Contains(t, preview(), "Flask==")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt.tmpl"), []byte("custom==1.0\n"), 0o644))
	assert.Contains(t, preview(), "Flask==", "overrides load only on refresh")
	resp, _ = env.send(t, staff, http.MethodPost, "/api/templates/refresh", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "custom==1.0\n", preview())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.tmpl"), []byte("[[ if ]]"), 0o644))
	resp, _ = env.send(t, staff, http.MethodPost, "/api/templates/refresh", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "custom==1.0\n", preview(), "a failed refresh keeps the loaded set")

	// A new template directory from the config applies without a restart.
	next := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(next, "requirements.txt.tmpl"), []byte("custom==2.0\n"), 0o644))
	cfg := env.cm.Get()
	cfg.Generator.TemplateDir = next
	require.NoError(t, env.cm.Update(cfg))
	assert.Equal(t, "custom==2.0\n", preview())

	p, err := env.server.gen.Generate("todo list")
	require.NoError(t, err)
	content, ok := p.File("requirements.txt")
	require.True(t, ok)
	assert.Equal(t, "custom==2.0\n", string(content))
}
