package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the server management handlers.
type ServerAPI struct {
	cm         *ConfigManager
	db         *sql.DB
	actionChan chan string
	logger     *slog.Logger
	started    time.Time
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Go        string `json:"go"`
}

func currentVersion() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		Go:        runtime.Version(),
	}
}

func NewServerAPI(cm *ConfigManager, db *sql.DB, actionChan chan string, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		cm:         cm,
		db:         db,
		actionChan: actionChan,
		logger:     logger,
		started:    time.Now(),
	}
}

// RegisterRoutes sets up the routing for all /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", a.handleHealthCheck)
	mux.HandleFunc("/api/server/config", requireStaff(a.handleConfig))
	mux.HandleFunc("/api/server/version", requireStaff(a.handleVersion))
	mux.HandleFunc("/api/server/shutdown", requireStaff(a.handleShutdown))
	mux.HandleFunc("/api/server/restart", requireStaff(a.handleRestart))
}

// handleHealthCheck is unauthenticated so container orchestrators can poll it.
func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.db.PingContext(ctx); err != nil {
		a.logger.Error("Health check failed", "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(a.started).Round(time.Second).String(),
	})
}

// handleConfig gets or updates the main server configuration.
func (a *ServerAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := a.cm.Get()
		respondWithJSON(w, http.StatusOK, redacted(cfg))
	case http.MethodPut:
		var newConfig Config
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&newConfig); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		newConfig.fillDefaults()
		keepSecrets(&newConfig, a.cm.Get())

		if err := a.cm.Update(newConfig); err != nil {
			a.logger.Error("Failed to update config", "error", err)
			respondWithError(w, http.StatusBadRequest, "Failed to update configuration: "+err.Error())
			return
		}

		a.logger.Info("Application configuration updated and saved via API. Some changes may require a restart.")
		respondWithJSON(w, http.StatusOK, redacted(a.cm.Get()))
	default:
		w.Header().Set("Allow", "GET, PUT")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

const redactedValue = "********"

// redacted hides secrets from API responses.
func redacted(cfg Config) Config {
	if cfg.Accounts != nil && cfg.Accounts.TokenSecret != "" {
		cfg.Accounts.TokenSecret = redactedValue
	}
	if cfg.Mail != nil && cfg.Mail.Password != "" {
		cfg.Mail.Password = redactedValue
	}
	return cfg
}

// keepSecrets restores secrets that a client sent back redacted or left out.
func keepSecrets(next *Config, current Config) {
	if next.Accounts.TokenSecret == "" || next.Accounts.TokenSecret == redactedValue {
		next.Accounts.TokenSecret = current.Accounts.TokenSecret
	}
	if next.Mail.Password == redactedValue {
		next.Mail.Password = current.Mail.Password
	}
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, currentVersion())
}

// handleShutdown initiates a graceful shutdown of the server.
func (a *ServerAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	a.logger.Warn("Shutdown initiated via API", "user", currentUser(r).Username)
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Server is shutting down..."})

	go func() {
		a.actionChan <- actionShutdown
	}()
}

// handleRestart initiates a graceful restart of the server.
func (a *ServerAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	a.logger.Warn("Restart initiated via API", "user", currentUser(r).Username)
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Server is restarting..."})

	go func() {
		a.actionChan <- actionRestart
	}()
}
