package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/webgen/pkg/accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadConfig_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Len(t, cfg.Accounts.TokenSecret, 64, "a secret is generated on first run")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Config
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, cfg.Accounts.TokenSecret, onDisk.Accounts.TokenSecret)

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Accounts.TokenSecret, again.Accounts.TokenSecret, "the secret survives restarts")
}

func TestLoadConfig_YAMLPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webgen.yaml")
	doc := `
server_config:
  addr: ":9090"
  site_name: Builder
  log_level: debug
mail_config:
  smtp_host: smtp.example.com
  from: noreply@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "Builder", cfg.Server.SiteName)
	assert.Equal(t, "smtp.example.com", cfg.Mail.SMTPHost)
	assert.Equal(t, 6, cfg.Accounts.OTPLength, "missing sections keep their defaults")
	assert.Equal(t, 30, cfg.Session.RememberDays)
	assert.NotEmpty(t, cfg.Accounts.TokenSecret)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Config
	require.NoError(t, yaml.Unmarshal(raw, &onDisk), "generated secret is written back as YAML")
	assert.Equal(t, cfg.Accounts.TokenSecret, onDisk.Accounts.TokenSecret)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"no secret", func(c *Config) { c.Accounts.TokenSecret = "" }},
		{"otp length", func(c *Config) { c.Accounts.OTPLength = 40 }},
		{"log level", func(c *Config) { c.Server.LogLevel = "loud" }},
		{"tls", func(c *Config) { c.Mail.TLS = "sometimes" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t.TempDir())
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_PackageConversions(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Accounts.OTPValidMinutes = 15
	cfg.Session.RememberDays = 7
	cfg.Mail.TimeoutSeconds = 3

	ac := cfg.accountsConfig()
	assert.Equal(t, "test-secret", ac.TokenSecret)
	assert.Equal(t, 15*60.0, ac.OTPTTL.Seconds())
	assert.Equal(t, 7*24.0, cfg.sessionConfig().PersistentLifetime.Hours())
	assert.Zero(t, cfg.sessionConfig().CleanupInterval)
	assert.Equal(t, 3.0, cfg.smtpConfig().Timeout.Seconds())
	assert.Equal(t, 30.0, cfg.otpSessionWindow().Minutes())
}

func TestConfigManager_UpdateRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, writeConfig(path, testConfig(dir)))
	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	cm.SetLogger(discardLogger())

	bad := cm.Get()
	bad.Server.Addr = ""
	assert.Error(t, cm.Update(bad))
	assert.Equal(t, ":8000", cm.Get().Server.Addr)

	// Get hands out copies.
	snapshot := cm.Get()
	snapshot.Server.SiteName = "changed"
	assert.Equal(t, "WebGen", cm.Get().Server.SiteName)

	good := cm.Get()
	good.Server.SiteName = "Renamed"
	require.NoError(t, cm.Update(good))
	assert.Equal(t, "Renamed", cm.Get().Server.SiteName)
}

func TestConfigManager_RejectsBrokenTemplateDir(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.tmpl"), []byte("[[ if ]]"), 0o644))

	cfg := env.cm.Get()
	cfg.Generator.TemplateDir = dir
	err := env.cm.Update(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template configuration rejected")
	assert.Empty(t, env.cm.Get().Generator.TemplateDir)
}

func TestGenerateCommand(t *testing.T) {
	dir := t.TempDir()
	overrides := filepath.Join(dir, "templates")
	require.NoError(t, os.Mkdir(overrides, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(overrides, "requirements.txt.tmpl"), []byte("custom==1.0\n"), 0o644))

	cfg := testConfig(dir)
	cfg.Generator.TemplateDir = overrides
	cfg.Generator.MaxPromptLength = 40
	path := filepath.Join(dir, "config.json")
	require.NoError(t, writeConfig(path, cfg))

	out := filepath.Join(dir, "shop.zip")
	configPath, generatePrompt, generateKind, generateOut = path, "an online store", "", out
	t.Cleanup(func() { configPath, generatePrompt, generateKind, generateOut = "./config.json", "", "", "" })

	var stdout, stderr bytes.Buffer
	require.NoError(t, runGenerate(&stdout, &stderr))
	assert.Contains(t, stderr.String(), "ecommerce")

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()
	var requirements string
	for _, f := range zr.File {
		if f.Name == "requirements.txt" {
			rc, err := f.Open()
			require.NoError(t, err)
			b, err := io.ReadAll(rc)
			_ = rc.Close()
			require.NoError(t, err)
			requirements = string(b)
		}
	}
	assert.Equal(t, "custom==1.0\n", requirements, "configured template overrides apply offline")

	generateKind, generateOut = "blog", "-"
	stdout.Reset()
	require.NoError(t, runGenerate(&stdout, &stderr))
	assert.True(t, strings.HasPrefix(stdout.String(), "PK"), "zip written to stdout")

	generateKind = "spaceship"
	assert.Error(t, runGenerate(&stdout, &stderr))

	generateKind, generatePrompt = "", strings.Repeat("shop ", 20)
	assert.Error(t, runGenerate(&stdout, &stderr), "configured prompt limit applies")
}

func TestCreateUserCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	db, err := openDatabase(cfg.Server.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	createUsername, createEmail, createPassword, createStaff = "root", "root@example.com", "correct-horse", true
	t.Cleanup(func() { createUsername, createEmail, createPassword, createStaff = "", "", "", false })

	var stdout bytes.Buffer
	require.NoError(t, createUser(context.Background(), db, cfg, discardLogger(), &stdout))
	assert.Contains(t, stdout.String(), `staff user "root"`)

	assert.Error(t, createUser(context.Background(), db, cfg, discardLogger(), &stdout), "duplicate username")

	store := accounts.NewStore(db)
	require.NoError(t, promote(context.Background(), store, "root", false, &stdout))
	user, err := store.UserByUsername(context.Background(), "root")
	require.NoError(t, err)
	assert.False(t, user.IsStaff)

	require.NoError(t, promote(context.Background(), store, " root ", true, &stdout))
	user, err = store.UserByUsername(context.Background(), "root")
	require.NoError(t, err)
	assert.True(t, user.IsStaff)
	assert.Contains(t, stdout.String(), `"root" is now a staff user`)

	assert.Error(t, promote(context.Background(), store, "nobody", true, &stdout))
}
