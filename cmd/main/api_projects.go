package main

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/CTAG07/webgen/pkg/accounts"
	"github.com/CTAG07/webgen/pkg/generator"
	"github.com/CTAG07/webgen/pkg/projects"
)

// ProjectsAPI holds the dependencies for the generation and project library handlers.
type ProjectsAPI struct {
	gen      *generator.Generator
	store    *projects.Store
	accounts *accounts.Store
	metrics  *Metrics
	logger   *slog.Logger
}

func NewProjectsAPI(gen *generator.Generator, store *projects.Store, accountStore *accounts.Store, metrics *Metrics, logger *slog.Logger) *ProjectsAPI {
	return &ProjectsAPI{
		gen:      gen,
		store:    store,
		accounts: accountStore,
		metrics:  metrics,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for /api/projects and /api/generate.
func (a *ProjectsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/projects", requireUser(a.handleProjects))
	mux.HandleFunc("/api/projects/", requireUser(a.handleProjectByID))
	mux.HandleFunc("/api/generate/preview", requireUser(a.handlePreview))
	mux.HandleFunc("/api/generate/archetypes", a.handleArchetypes)
}

// GenerateRequest is the body of the generation endpoints. Kind, when set,
// skips classification.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
	Kind   string `json:"kind,omitempty"`
}

// FileInfo describes one file of a generated project.
type FileInfo struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

// PreviewResponse is returned by the preview endpoint.
type PreviewResponse struct {
	Name  string     `json:"name"`
	Title string     `json:"title"`
	Kind  string     `json:"kind"`
	Size  int64      `json:"size"`
	Files []FileInfo `json:"files"`
}

// CreateProjectResponse is returned after a project was generated and stored.
type CreateProjectResponse struct {
	Message string            `json:"message"`
	Project *projects.Project `json:"project"`
	Files   []FileInfo        `json:"files"`
}

func fileInfos(p *generator.Project) []FileInfo {
	infos := make([]FileInfo, len(p.Files))
	for i, f := range p.Files {
		infos[i] = FileInfo{Path: f.Path, Size: len(f.Content)}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

// generate runs the generator for a request and writes the error response on failure.
func (a *ProjectsAPI) generate(w http.ResponseWriter, r *http.Request) *generator.Project {
	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return nil
	}

	var (
		p   *generator.Project
		err error
	)
	if req.Kind == "" {
		p, err = a.gen.Generate(req.Prompt)
	} else {
		kind := generator.Kind(strings.ToLower(req.Kind))
		if _, ok := generator.Archetypes()[kind]; !ok {
			respondWithError(w, http.StatusBadRequest, "Unknown project kind")
			return nil
		}
		if strings.TrimSpace(req.Prompt) == "" {
			respondWithError(w, http.StatusBadRequest, generator.ErrEmptyPrompt.Error())
			return nil
		}
		p, err = a.gen.GenerateKind(kind, strings.TrimSpace(req.Prompt))
	}
	if err != nil {
		if errors.Is(err, generator.ErrEmptyPrompt) || errors.Is(err, generator.ErrPromptTooLong) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return nil
		}
		a.logger.Error("Project generation failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Project generation failed")
		return nil
	}
	return p
}

func (a *ProjectsAPI) handleProjects(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	switch r.Method {
	case http.MethodGet:
		list, err := a.store.List(r.Context(), user.ID)
		if err != nil {
			a.logger.Error("Failed to list projects", "user_id", user.ID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to list projects")
			return
		}
		if list == nil {
			list = []projects.Project{}
		}
		respondWithJSON(w, http.StatusOK, list)
	case http.MethodPost:
		gp := a.generate(w, r)
		if gp == nil {
			return
		}
		stored, err := a.store.Create(r.Context(), user.ID, gp)
		if err != nil {
			a.logger.Error("Failed to store project", "user_id", user.ID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to store project")
			return
		}
		if err = a.accounts.IncrementProjects(r.Context(), user.ID); err != nil {
			a.logger.Warn("Failed to update project counter", "user_id", user.ID, "error", err)
		}
		a.metrics.projects.WithLabelValues(string(gp.Kind)).Inc()
		a.logger.Info("Project generated", "user_id", user.ID, "project_id", stored.ID, "kind", gp.Kind)

		respondWithJSON(w, http.StatusCreated, CreateProjectResponse{
			Message: "Your " + gp.Title + " project is ready to download.",
			Project: stored,
			Files:   fileInfos(gp),
		})
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *ProjectsAPI) handleProjectByID(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/projects/"), "/"), "/")
	id := parts[0]
	if id == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "download") {
		respondWithError(w, http.StatusNotFound, "Project not found")
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.handleDownload(w, r, user.ID, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, err := a.store.Get(r.Context(), user.ID, id)
		if err != nil {
			a.respondWithStoreError(w, err)
			return
		}
		respondWithJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := a.store.Delete(r.Context(), user.ID, id); err != nil {
			a.respondWithStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *ProjectsAPI) handleDownload(w http.ResponseWriter, r *http.Request, userID int64, id string) {
	p, f, err := a.store.Open(r.Context(), userID, id)
	if err != nil {
		a.respondWithStoreError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+p.Filename()+`"`)
	http.ServeContent(w, r, p.Filename(), p.CreatedAt, f)
}

func (a *ProjectsAPI) respondWithStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, projects.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Project not found")
		return
	}
	a.logger.Error("Project store failure", "error", err)
	respondWithError(w, http.StatusInternalServerError, "Failed to access project")
}

func (a *ProjectsAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	p := a.generate(w, r)
	if p == nil {
		return
	}
	respondWithJSON(w, http.StatusOK, PreviewResponse{
		Name:  p.Name,
		Title: p.Title,
		Kind:  string(p.Kind),
		Size:  p.Size(),
		Files: fileInfos(p),
	})
}

// ArchetypeInfo summarises a project kind for clients.
type ArchetypeInfo struct {
	Kind        string   `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Features    []string `json:"features"`
}

func (a *ProjectsAPI) handleArchetypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var out []ArchetypeInfo
	for kind, arch := range generator.Archetypes() {
		out = append(out, ArchetypeInfo{
			Kind:        string(kind),
			Title:       arch.Title,
			Description: arch.Description,
			Features:    arch.Features,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	respondWithJSON(w, http.StatusOK, out)
}
