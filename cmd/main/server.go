package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/CTAG07/webgen/pkg/accounts"
	"github.com/CTAG07/webgen/pkg/generator"
	"github.com/CTAG07/webgen/pkg/mailer"
	"github.com/CTAG07/webgen/pkg/projects"
	"github.com/CTAG07/webgen/pkg/ratelimit"
	"github.com/CTAG07/webgen/pkg/session"
)

type Server struct {
	config   *Config
	db       *sql.DB
	logger   *slog.Logger
	accounts *accounts.Service
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	gen      *generator.Generator
	projects *projects.Store
	metrics  *Metrics

	authAPI     *AuthAPI
	accountsAPI *AccountsAPI
	projectsAPI *ProjectsAPI
	serverAPI   *ServerAPI
	templateAPI *TemplateAPI

	handler http.Handler
}

// setupSchemas creates every table the server uses.
func setupSchemas(db *sql.DB) error {
	if err := accounts.SetupSchema(db); err != nil {
		return err
	}
	if err := session.SetupSchema(db); err != nil {
		return fmt.Errorf("could not create session schema: %w", err)
	}
	if err := projects.SetupSchema(db); err != nil {
		return err
	}
	return nil
}

// openDatabase opens the SQLite database at path, creating its directory and schema.
func openDatabase(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := initDB(path)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err = setupSchemas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// newMailer returns an SMTP mailer, or a logging one when no SMTP host is configured.
func newMailer(config *Config, logger *slog.Logger) (mailer.Mailer, error) {
	if config.Mail.SMTPHost == "" {
		logger.Warn("No SMTP host configured, emails will be logged instead of sent")
		return mailer.NewLogMailer(logger), nil
	}
	return mailer.NewSMTPMailer(config.smtpConfig(), logger)
}

// NewServer wires every component. A nil mailer selects one from the configuration.
func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string, m mailer.Mailer) (*Server, error) {
	snapshot := cm.Get()
	config := &snapshot

	svc, err := accounts.NewService(accounts.NewStore(db), config.accountsConfig(), logger.With("component", "accounts"))
	if err != nil {
		return nil, fmt.Errorf("error creating account service: %w", err)
	}

	if m == nil {
		if m, err = newMailer(config, logger.With("component", "mailer")); err != nil {
			return nil, fmt.Errorf("error creating mailer: %w", err)
		}
	}
	renderer, err := mailer.NewRenderer(config.Server.SiteName)
	if err != nil {
		return nil, err
	}

	gen, err := generator.New(config.generatorConfig(), logger.With("component", "generator"))
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	cm.SetTemplateManager(gen.Templates())

	projectStore, err := projects.NewStore(db, filepath.Join(config.Server.DataDir, "archives"))
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(session.NewStore(db), config.sessionConfig(), logger.With("component", "session"))
	metrics := NewMetrics(projectStore.Count)

	server := &Server{
		config:   config,
		db:       db,
		logger:   logger,
		accounts: svc,
		sessions: sessions,
		gen:      gen,
		projects: projectStore,
		metrics:  metrics,

		authAPI:     NewAuthAPI(svc, logger),
		accountsAPI: NewAccountsAPI(svc, m, renderer, metrics, config, logger),
		projectsAPI: NewProjectsAPI(gen, projectStore, svc.Store(), metrics, logger),
		serverAPI:   NewServerAPI(cm, db, actionChan, logger),
		templateAPI: NewTemplateAPI(gen, logger),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.projectsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)

	accountsMux := http.NewServeMux()
	server.accountsAPI.RegisterRoutes(accountsMux)
	var accountsHandler http.Handler = accountsMux
	if config.RateLimit.Enabled {
		server.limiter = ratelimit.New(config.rateLimitConfig())
		accountsHandler = ratelimit.Middleware(server.limiter, config.Server.TrustProxy, metrics.RateLimited)(accountsMux)
	}
	apiMux.Handle("/api/accounts/", accountsHandler)

	// Every api route sees the session and, when signed in, the user.
	authed := sessions.Middleware(server.authAPI.Authenticate(apiMux))

	root := http.NewServeMux()
	root.Handle("/metrics", metrics.Handler())
	root.Handle("/api/", authed)
	root.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, "Not found")
	})

	server.handler = metrics.Instrument(server.logRequests(root))
	return server, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close stops the background loops. The database is owned by the caller.
func (s *Server) Close() {
	s.sessions.Stop()
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", getClientIP(r, s.config.Server.TrustProxy),
			"duration", time.Since(start))
	})
}

func getClientIP(r *http.Request, trustProxy bool) string {
	return ratelimit.ClientIP(r, trustProxy)
}
