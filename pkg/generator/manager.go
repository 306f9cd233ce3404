package generator

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

const (
	leftDelim  = "[["
	rightDelim = "]]"
	tmplSuffix = ".tmpl"
)

var ErrTemplateNotFound = errors.New("template not found")

// TemplateManager owns the parsed project templates. The embedded defaults are
// parsed first and any *.tmpl file in the override directory replaces the
// default of the same name. All methods are safe for concurrent use.
type TemplateManager struct {
	logger         *slog.Logger
	defaults       fs.FS
	overrideDir    string
	templates      *template.Template
	cleanTemplates *template.Template
	funcMap        template.FuncMap
	mu             sync.RWMutex
}

// NewTemplateManager parses the embedded templates and, when overrideDir is not
// empty, the templates found there.
func NewTemplateManager(logger *slog.Logger, overrideDir string) (*TemplateManager, error) {
	tm := &TemplateManager{
		logger:      logger,
		defaults:    embeddedTemplates,
		overrideDir: overrideDir,
		funcMap:     makeFuncMap(),
	}
	if err := tm.Refresh(); err != nil {
		return nil, err
	}
	logger.Debug("Template manager initialized", "override_dir", overrideDir)
	return tm, nil
}

// Refresh re-reads every template. On error the previous set stays in use.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	set, overrides, err := tm.parse(tm.overrideDir)
	if err != nil {
		return err
	}
	clean, err := set.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone templates: %w", err)
	}

	tm.templates = set
	tm.cleanTemplates = clean
	tm.logger.Info("Loaded project templates", "count", len(tm.names(set)), "overrides", overrides)
	return nil
}

// SetOverrideDir changes the override directory. It takes effect on the next Refresh.
func (tm *TemplateManager) SetOverrideDir(dir string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.overrideDir = dir
}

func (tm *TemplateManager) OverrideDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.overrideDir
}

// Check parses the templates that dir would produce without installing them.
func (tm *TemplateManager) Check(dir string) error {
	_, _, err := tm.parse(dir)
	return err
}

func (tm *TemplateManager) parse(dir string) (*template.Template, int, error) {
	set, err := template.New("").Delims(leftDelim, rightDelim).Funcs(tm.funcMap).ParseFS(tm.defaults, "templates/*"+tmplSuffix)
	if err != nil {
		tm.logger.Error("Failed to parse embedded templates", "error", err)
		return nil, 0, fmt.Errorf("failed to parse embedded templates: %w", err)
	}
	if dir == "" {
		return set, 0, nil
	}

	pattern := filepath.Join(dir, "*"+tmplSuffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("bad override pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		if _, statErr := os.Stat(dir); errors.Is(statErr, fs.ErrNotExist) {
			tm.logger.Warn("Template override directory does not exist", "dir", dir)
		}
		return set, 0, nil
	}
	if set, err = set.ParseFiles(matches...); err != nil {
		tm.logger.Error("Failed to parse override templates", "dir", dir, "error", err)
		return nil, 0, fmt.Errorf("failed to parse override templates: %w", err)
	}
	return set, len(matches), nil
}

// Execute renders the named template.
func (tm *TemplateManager) Execute(w io.Writer, name string, data any) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.templates.Lookup(name) == nil {
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return tm.templates.ExecuteTemplate(w, name, data)
}

// ExecuteTemplateString parses content against a fresh copy of the template set
// and executes it. Content can call any loaded template.
func (tm *TemplateManager) ExecuteTemplateString(w io.Writer, content string, data any) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	tempSet, err := tm.cleanTemplates.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone templates for string execution: %w", err)
	}
	t, err := tempSet.New("inline").Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse string template: %w", err)
	}
	return t.Execute(w, data)
}

// Names returns the sorted names of every loaded template file.
func (tm *TemplateManager) Names() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.names(tm.templates)
}

func (tm *TemplateManager) names(set *template.Template) []string {
	var names []string
	for _, t := range set.Templates() {
		if strings.HasSuffix(t.Name(), tmplSuffix) {
			names = append(names, t.Name())
		}
	}
	sort.Strings(names)
	return names
}
