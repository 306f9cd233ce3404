package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CTAG07/webgen/pkg/accounts"
	"github.com/CTAG07/webgen/pkg/generator"
	"github.com/CTAG07/webgen/pkg/mailer"
	"github.com/CTAG07/webgen/pkg/ratelimit"
	"github.com/CTAG07/webgen/pkg/session"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the HTTP server and storage.
type ServerConfig struct {
	Addr         string `json:"addr" yaml:"addr"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	SiteName     string `json:"site_name" yaml:"site_name"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
	LogFormat    string `json:"log_format" yaml:"log_format"`
	DataDir      string `json:"data_dir" yaml:"data_dir"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
	TrustProxy   bool   `json:"trust_proxy" yaml:"trust_proxy"`
}

// AccountsConfig holds the account flow tunables. Durations are whole units so
// the file stays hand editable.
type AccountsConfig struct {
	TokenSecret       string `json:"token_secret" yaml:"token_secret"`
	OTPLength         int    `json:"otp_length" yaml:"otp_length"`
	OTPValidMinutes   int    `json:"otp_valid_minutes" yaml:"otp_valid_minutes"`
	OTPResendMinutes  int    `json:"otp_resend_minutes" yaml:"otp_resend_minutes"`
	OTPMaxAttempts    int    `json:"otp_max_attempts" yaml:"otp_max_attempts"`
	OTPSessionMinutes int    `json:"otp_session_minutes" yaml:"otp_session_minutes"`
	MinPasswordLength int    `json:"min_password_length" yaml:"min_password_length"`
	LinkValidHours    int    `json:"link_valid_hours" yaml:"link_valid_hours"`
	BcryptCost        int    `json:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// SessionConfig holds cookie settings.
type SessionConfig struct {
	CookieName     string `json:"cookie_name" yaml:"cookie_name"`
	LifetimeHours  int    `json:"lifetime_hours" yaml:"lifetime_hours"`
	RememberDays   int    `json:"remember_days" yaml:"remember_days"`
	Secure         bool   `json:"secure" yaml:"secure"`
	CleanupMinutes int    `json:"cleanup_minutes" yaml:"cleanup_minutes"`
}

// MailConfig selects and configures the outgoing mail transport.
// An empty SMTPHost logs emails instead of sending them.
type MailConfig struct {
	SMTPHost       string `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort       int    `json:"smtp_port" yaml:"smtp_port"`
	Username       string `json:"username" yaml:"username"`
	Password       string `json:"password" yaml:"password"`
	From           string `json:"from" yaml:"from"`
	TLS            string `json:"tls" yaml:"tls"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// RateLimitConfig throttles the account endpoints per client IP.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// GeneratorConfig holds project generation settings.
type GeneratorConfig struct {
	MaxPromptLength int    `json:"max_prompt_length" yaml:"max_prompt_length"`
	TemplateDir     string `json:"template_dir" yaml:"template_dir"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig    `json:"server_config" yaml:"server_config"`
	Accounts  *AccountsConfig  `json:"accounts_config" yaml:"accounts_config"`
	Session   *SessionConfig   `json:"session_config" yaml:"session_config"`
	Mail      *MailConfig      `json:"mail_config" yaml:"mail_config"`
	RateLimit *RateLimitConfig `json:"rate_limit_config" yaml:"rate_limit_config"`
	Generator *GeneratorConfig `json:"generator_config" yaml:"generator_config"`
}

// DefaultConfig creates a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Addr:         ":8000",
			BaseURL:      "http://localhost:8000",
			SiteName:     "WebGen",
			LogLevel:     "info",
			LogFormat:    "text",
			DataDir:      "./data",
			DatabasePath: "./data/webgen.db",
		},
		Accounts: &AccountsConfig{
			OTPLength:         6,
			OTPValidMinutes:   10,
			OTPResendMinutes:  2,
			OTPMaxAttempts:    5,
			OTPSessionMinutes: 30,
			MinPasswordLength: 8,
			LinkValidHours:    72,
			BcryptCost:        10,
		},
		Session: &SessionConfig{
			CookieName:     "webgen_session",
			LifetimeHours:  14 * 24,
			RememberDays:   30,
			CleanupMinutes: 10,
		},
		Mail: &MailConfig{
			SMTPPort:       587,
			From:           "WebGen <noreply@localhost>",
			TLS:            "mandatory",
			TimeoutSeconds: 15,
		},
		RateLimit: &RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1,
			Burst:             10,
		},
		Generator: &GeneratorConfig{
			MaxPromptLength: generator.DefaultMaxPromptLength,
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

func writeConfig(path string, config *Config) error {
	data, err := marshalConfig(path, config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadConfig reads the configuration from a JSON or YAML file at the given path.
// If the file doesn't exist, it creates one with default values. A missing token
// secret is generated and written back so that emailed links survive restarts.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if config.Accounts.TokenSecret, err = newSecret(); err != nil {
			return nil, err
		}
		if err = writeConfig(path, config); err != nil {
			// The server can still run with defaults.
			fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
		}
		return config, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = unmarshalConfig(path, file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.fillDefaults()

	if config.Accounts.TokenSecret == "" {
		if config.Accounts.TokenSecret, err = newSecret(); err != nil {
			return nil, err
		}
		if err = writeConfig(path, config); err != nil {
			return nil, fmt.Errorf("failed to persist generated token secret: %w", err)
		}
	}
	return config, nil
}

// fillDefaults restores sections that a partial file set to null.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Server == nil {
		c.Server = d.Server
	}
	if c.Accounts == nil {
		c.Accounts = d.Accounts
	}
	if c.Session == nil {
		c.Session = d.Session
	}
	if c.Mail == nil {
		c.Mail = d.Mail
	}
	if c.RateLimit == nil {
		c.RateLimit = d.RateLimit
	}
	if c.Generator == nil {
		c.Generator = d.Generator
	}
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if c.Server == nil || c.Accounts == nil || c.Session == nil || c.Mail == nil || c.RateLimit == nil || c.Generator == nil {
		return errors.New("all config sections are required")
	}
	if c.Server.Addr == "" {
		return errors.New("server_config.addr must not be empty")
	}
	if c.Accounts.TokenSecret == "" {
		return errors.New("accounts_config.token_secret must not be empty")
	}
	if c.Accounts.OTPLength <= 0 || c.Accounts.OTPLength > 18 {
		return fmt.Errorf("accounts_config.otp_length %d out of range", c.Accounts.OTPLength)
	}
	if _, err := parseLogLevel(c.Server.LogLevel); err != nil {
		return err
	}
	switch c.Mail.TLS {
	case "", "mandatory", "opportunistic", "none":
	default:
		return fmt.Errorf("mail_config.tls %q is not one of mandatory, opportunistic, none", c.Mail.TLS)
	}
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// accountsConfig converts the file settings to the accounts package form.
func (c *Config) accountsConfig() accounts.Config {
	ac := accounts.DefaultConfig()
	a := c.Accounts
	ac.TokenSecret = a.TokenSecret
	if a.OTPLength > 0 {
		ac.OTPLength = a.OTPLength
	}
	if a.OTPValidMinutes > 0 {
		ac.OTPTTL = minutes(a.OTPValidMinutes)
	}
	if a.OTPResendMinutes > 0 {
		ac.OTPResendInterval = minutes(a.OTPResendMinutes)
	}
	if a.OTPMaxAttempts > 0 {
		ac.OTPMaxAttempts = a.OTPMaxAttempts
	}
	if a.MinPasswordLength > 0 {
		ac.MinPasswordLength = a.MinPasswordLength
	}
	if a.LinkValidHours > 0 {
		ac.TokenTTL = time.Duration(a.LinkValidHours) * time.Hour
	}
	if a.BcryptCost > 0 {
		ac.BcryptCost = a.BcryptCost
	}
	return ac
}

// otpSessionWindow bounds how long a registration may stay pending in one session.
func (c *Config) otpSessionWindow() time.Duration {
	if c.Accounts.OTPSessionMinutes > 0 {
		return minutes(c.Accounts.OTPSessionMinutes)
	}
	return 30 * time.Minute
}

func (c *Config) sessionConfig() session.Config {
	sc := session.DefaultConfig()
	s := c.Session
	if s.CookieName != "" {
		sc.CookieName = s.CookieName
	}
	if s.LifetimeHours > 0 {
		sc.Lifetime = time.Duration(s.LifetimeHours) * time.Hour
	}
	if s.RememberDays > 0 {
		sc.PersistentLifetime = time.Duration(s.RememberDays) * 24 * time.Hour
	}
	sc.Secure = s.Secure
	sc.CleanupInterval = minutes(s.CleanupMinutes)
	return sc
}

func (c *Config) smtpConfig() mailer.SMTPConfig {
	m := c.Mail
	return mailer.SMTPConfig{
		Host:     m.SMTPHost,
		Port:     m.SMTPPort,
		Username: m.Username,
		Password: m.Password,
		From:     m.From,
		TLS:      m.TLS,
		Timeout:  time.Duration(m.TimeoutSeconds) * time.Second,
	}
}

func (c *Config) rateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Rate:  c.RateLimit.RequestsPerSecond,
		Burst: c.RateLimit.Burst,
	}
}

func (c *Config) generatorConfig() generator.Config {
	return generator.Config{
		MaxPromptLength: c.Generator.MaxPromptLength,
		TemplateDir:     c.Generator.TemplateDir,
	}
}

// ConfigManager handles thread-safe access to the configuration and its persistence.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
	tm         *generator.TemplateManager
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}, nil
}

func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.logger = logger
}

// SetTemplateManager registers the generator templates so that a changed
// template directory is checked before it is saved.
func (cm *ConfigManager) SetTemplateManager(tm *generator.TemplateManager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
}

func (cm *ConfigManager) Path() string {
	return cm.configPath
}

// Get returns a copy of the current configuration. Sections are copied too so
// callers cannot modify the live state.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.clone()
}

func (c *Config) clone() Config {
	out := Config{}
	if c.Server != nil {
		v := *c.Server
		out.Server = &v
	}
	if c.Accounts != nil {
		v := *c.Accounts
		out.Accounts = &v
	}
	if c.Session != nil {
		v := *c.Session
		out.Session = &v
	}
	if c.Mail != nil {
		v := *c.Mail
		out.Mail = &v
	}
	if c.RateLimit != nil {
		v := *c.RateLimit
		out.RateLimit = &v
	}
	if c.Generator != nil {
		v := *c.Generator
		out.Generator = &v
	}
	return out
}

// Update validates the new configuration, saves it to disk and makes it current.
// A new template directory is loaded at once; most other settings only take
// effect after a restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	newConfig.fillDefaults()
	if err := newConfig.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	dirChanged := cm.tm != nil && newConfig.Generator.TemplateDir != cm.config.Generator.TemplateDir
	if dirChanged {
		if err := cm.tm.Check(newConfig.Generator.TemplateDir); err != nil {
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}

	if err := writeConfig(cm.configPath, &newConfig); err != nil {
		return err
	}
	next := newConfig.clone()
	cm.config = &next
	cm.logger.Info("Configuration updated", "path", cm.configPath)

	if dirChanged {
		cm.tm.SetOverrideDir(newConfig.Generator.TemplateDir)
		if err := cm.tm.Refresh(); err != nil {
			cm.logger.Error("Failed to reload templates after config update", "error", err)
		}
	}
	return nil
}
