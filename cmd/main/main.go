package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/webgen/pkg/accounts"
	"github.com/CTAG07/webgen/pkg/generator"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "webgen",
	Short: "webgen turns a plain-language description into a runnable Flask project",
	Long: `webgen hosts the account and generation API and can render projects offline.

Running webgen without a subcommand starts the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configPath)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configPath)
	},
}

var (
	generatePrompt string
	generateKind   string
	generateOut    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a project archive without starting the server",
	Example: `  webgen generate --prompt "a todo list for my team" --out todo.zip
  webgen generate --prompt "recipes" --kind blog --out -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerate(cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

var (
	createUsername string
	createEmail    string
	createPassword string
	createStaff    bool
)

var createUserCmd = &cobra.Command{
	Use:   "createuser",
	Short: "Create an active account, skipping email verification",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreateUser(cmd.Context(), cmd.OutOrStdout())
	},
}

var promoteRevoke bool

var promoteCmd = &cobra.Command{
	Use:   "promote <username>",
	Short: "Grant or revoke staff access for an existing account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPromote(cmd.Context(), args[0], cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(currentVersion())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "Path to the JSON or YAML configuration file")

	generateCmd.Flags().StringVarP(&generatePrompt, "prompt", "p", "", "Description of the website to generate")
	generateCmd.Flags().StringVarP(&generateKind, "kind", "k", "", "Force a project kind (task, ecommerce, blog, generic)")
	generateCmd.Flags().StringVarP(&generateOut, "out", "o", "", "Archive path, or - for stdout (default <name>.zip)")
	_ = generateCmd.MarkFlagRequired("prompt")

	createUserCmd.Flags().StringVar(&createUsername, "username", "", "Username")
	createUserCmd.Flags().StringVar(&createEmail, "email", "", "Email address")
	createUserCmd.Flags().StringVar(&createPassword, "password", "", "Password")
	createUserCmd.Flags().BoolVar(&createStaff, "staff", false, "Grant access to the server management endpoints")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("email")
	_ = createUserCmd.MarkFlagRequired("password")

	promoteCmd.Flags().BoolVar(&promoteRevoke, "revoke", false, "Remove staff access instead of granting it")

	rootCmd.AddCommand(serveCmd, generateCmd, createUserCmd, promoteCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, _ := parseLogLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// serve runs server cycles until a shutdown is requested.
func serve(path string) error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(path, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("webgen has shut down.")
	return nil
}

// run hosts the server once and returns whenever it is shut down or restarted.
func run(path string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(path)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := newLogger(os.Stdout, config.Server.LogLevel, config.Server.LogFormat)
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...", "version", Version)

	db, err := openDatabase(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}

	server, err := NewServer(cm, logger, db, actionChan, nil)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	httpServer := &http.Server{
		Addr:              config.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting webgen server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			actionChan <- actionShutdown
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	server.Close()
	logger.Info("HTTP server stopped.")

	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	return action, nil
}

// runGenerate renders a project offline with the same generator settings the server uses.
func runGenerate(stdout, stderr io.Writer) error {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()
	logger := newLogger(stderr, "warn", config.Server.LogFormat)
	gen, err := generator.New(config.generatorConfig(), logger)
	if err != nil {
		return err
	}

	var p *generator.Project
	if generateKind != "" {
		kind := generator.Kind(strings.ToLower(generateKind))
		if _, ok := generator.Archetypes()[kind]; !ok {
			return fmt.Errorf("unknown kind %q", generateKind)
		}
		p, err = gen.GenerateKind(kind, generatePrompt)
	} else {
		p, err = gen.Generate(generatePrompt)
	}
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err = generator.WriteArchive(&buf, p.Files); err != nil {
		return err
	}

	out := generateOut
	if out == "-" {
		_, err = buf.WriteTo(stdout)
		return err
	}
	if out == "" {
		out = p.Name + ".zip"
	}
	if err = atomic.WriteFile(out, &buf); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	fmt.Fprintf(stderr, "Generated %s (%s, %d files) -> %s\n", p.Title, p.Kind, len(p.Files), out)
	return nil
}

// openForCommand loads the configuration and database for a one-shot command.
func openForCommand() (*Config, *sql.DB, *slog.Logger, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()
	logger := newLogger(os.Stderr, config.Server.LogLevel, config.Server.LogFormat)

	db, err := openDatabase(config.Server.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &config, db, logger, nil
}

func runCreateUser(ctx context.Context, stdout io.Writer) error {
	config, db, logger, err := openForCommand()
	if err != nil {
		return err
	}
	defer db.Close()

	return createUser(ctx, db, config, logger, stdout)
}

func runPromote(ctx context.Context, username string, stdout io.Writer) error {
	_, db, _, err := openForCommand()
	if err != nil {
		return err
	}
	defer db.Close()

	return promote(ctx, accounts.NewStore(db), username, !promoteRevoke, stdout)
}

// promote sets the staff flag of the named account.
func promote(ctx context.Context, store *accounts.Store, username string, staff bool, stdout io.Writer) error {
	user, err := store.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return fmt.Errorf("failed to find %q: %w", username, err)
	}
	if err = store.SetStaff(ctx, user.ID, staff); err != nil {
		return err
	}
	if staff {
		fmt.Fprintf(stdout, "%q is now a staff user\n", user.Username)
	} else {
		fmt.Fprintf(stdout, "%q is no longer a staff user\n", user.Username)
	}
	return nil
}

// createUser adds an active account directly, for bootstrapping staff users.
func createUser(ctx context.Context, db *sql.DB, config *Config, logger *slog.Logger, stdout io.Writer) error {
	svc, err := accounts.NewService(accounts.NewStore(db), config.accountsConfig(), logger)
	if err != nil {
		return err
	}
	user, err := svc.CreateActiveUser(ctx, strings.TrimSpace(createUsername), strings.TrimSpace(createEmail), createPassword, createStaff)
	if err != nil {
		return err
	}
	role := "user"
	if user.IsStaff {
		role = "staff user"
	}
	fmt.Fprintf(stdout, "Created %s %q (id %d)\n", role, user.Username, user.ID)
	return nil
}
