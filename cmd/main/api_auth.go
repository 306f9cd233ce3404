package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/CTAG07/webgen/pkg/accounts"
	"github.com/CTAG07/webgen/pkg/session"
)

type contextKey string

const contextKeyUser = contextKey("user")

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// AuthAPI resolves the signed-in user from the session.
type AuthAPI struct {
	accounts *accounts.Service
	logger   *slog.Logger
}

func NewAuthAPI(svc *accounts.Service, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		accounts: svc,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints on a standard http.ServeMux.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
}

// MeResponse describes the current visitor.
type MeResponse struct {
	Authenticated bool              `json:"authenticated"`
	User          *accounts.User    `json:"user,omitempty"`
	Profile       *accounts.Profile `json:"profile,omitempty"`
}

// Authenticate loads the user named by the session into the request context.
// Requests without a valid user pass through anonymously; handlers that need
// one wrap themselves in requireUser.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		id, ok := sess.UserID()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		user, err := a.accounts.Store().UserByID(r.Context(), id)
		if err != nil {
			if !errors.Is(err, accounts.ErrUserNotFound) {
				a.logger.Error("Authenticate failed to load user", "user_id", id, "error", err)
				respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}
			// The account is gone, drop the stale login.
			sess.Destroy()
			next.ServeHTTP(w, r)
			return
		}
		if !user.IsActive {
			sess.Destroy()
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	user := currentUser(r)
	if user == nil {
		respondWithJSON(w, http.StatusOK, MeResponse{Authenticated: false})
		return
	}
	profile, err := a.accounts.Store().Profile(r.Context(), user.ID)
	if err != nil {
		a.logger.Error("Failed to load profile", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	respondWithJSON(w, http.StatusOK, MeResponse{Authenticated: true, User: user, Profile: profile})
}

// currentUser returns the user loaded by Authenticate, or nil.
func currentUser(r *http.Request) *accounts.User {
	u, _ := r.Context().Value(contextKeyUser).(*accounts.User)
	return u
}

// requireUser rejects anonymous requests.
func requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r) == nil {
			respondWithError(w, http.StatusUnauthorized, "Authentication required.")
			return
		}
		next(w, r)
	}
}

// requireStaff rejects anyone but signed-in staff accounts.
func requireStaff(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(r)
		if u == nil {
			respondWithError(w, http.StatusUnauthorized, "Authentication required.")
			return
		}
		if !u.IsStaff {
			respondWithError(w, http.StatusForbidden, "Forbidden: staff only")
			return
		}
		next(w, r)
	}
}

// decodeJSON reads a size-limited JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// respondWithServiceError reports user-facing account errors as 400 and
// everything else as a logged 500.
func respondWithServiceError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	var accErr *accounts.Error
	if errors.As(err, &accErr) {
		respondWithError(w, http.StatusBadRequest, accErr.Message)
		return
	}
	logger.Error(msg, "error", err)
	respondWithError(w, http.StatusInternalServerError, msg)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		err := json.NewEncoder(w).Encode(payload)
		if err != nil {
			fmt.Printf("ERROR: Failed to encode JSON response: %v\n", err)
		}
	}
}
