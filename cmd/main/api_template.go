package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/webgen/pkg/generator"
)

// TemplateAPI holds the dependencies for the project template handlers.
type TemplateAPI struct {
	gen    *generator.Generator
	logger *slog.Logger
}

// TemplateList describes the loaded project templates.
type TemplateList struct {
	OverrideDir string   `json:"override_dir"`
	Templates   []string `json:"templates"`
}

func NewTemplateAPI(gen *generator.Generator, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{gen: gen, logger: logger}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", requireStaff(t.handleRefresh))
	mux.HandleFunc("/api/templates/test", requireStaff(t.handleTest))
	mux.HandleFunc("/api/templates/preview", requireStaff(t.handlePreview))
	mux.HandleFunc("/api/templates", requireStaff(t.handleList))
}

// handleRefresh re-reads the templates from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := t.gen.Templates().Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API", "user", currentUser(r).Username)
	w.WriteHeader(http.StatusNoContent)
}

func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	tm := t.gen.Templates()
	respondWithJSON(w, http.StatusOK, TemplateList{OverrideDir: tm.OverrideDir(), Templates: tm.Names()})
}

// sampleKind reads the archetype from the kind query parameter, defaulting to generic.
func sampleKind(w http.ResponseWriter, r *http.Request) (generator.Kind, bool) {
	kind := generator.Kind(strings.ToLower(r.URL.Query().Get("kind")))
	if kind == "" {
		kind = generator.KindGeneric
	}
	if _, ok := generator.Archetypes()[kind]; !ok {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown kind %q", kind))
		return "", false
	}
	return kind, true
}

// handleTest renders the request body as a template against sample data without saving it.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	kind, ok := sampleKind(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	var buf bytes.Buffer
	if err = t.gen.RenderSampleString(&buf, kind, string(body)); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePreview renders one loaded template against sample data.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}
	kind, ok := sampleKind(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := t.gen.RenderSample(&buf, kind, name); err != nil {
		if errors.Is(err, generator.ErrTemplateNotFound) {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
			return
		}
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render preview: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
