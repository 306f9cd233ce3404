package generator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"
)

const DefaultMaxPromptLength = 2000

var (
	ErrEmptyPrompt   = errors.New("please describe the website you want to generate")
	ErrPromptTooLong = errors.New("description is too long")
	ErrUnknownKind   = errors.New("unknown archetype")
)

// File is one generated project file.
type File struct {
	Path    string
	Content []byte
}

// Project is the result of a generation run.
type Project struct {
	Name   string
	Title  string
	Prompt string
	Kind   Kind
	Files  []File
}

// Size is the total size of every file in bytes.
func (p *Project) Size() int64 {
	var n int64
	for _, f := range p.Files {
		n += int64(len(f.Content))
	}
	return n
}

// Paths returns the sorted file paths.
func (p *Project) Paths() []string {
	paths := make([]string, len(p.Files))
	for i, f := range p.Files {
		paths[i] = f.Path
	}
	sort.Strings(paths)
	return paths
}

// File returns the content of the file at path.
func (p *Project) File(path string) ([]byte, bool) {
	for _, f := range p.Files {
		if f.Path == path {
			return f.Content, true
		}
	}
	return nil, false
}

type Config struct {
	MaxPromptLength int
	// TemplateDir optionally overrides embedded templates by file name.
	TemplateDir string
}

// Generator renders Flask projects from prompts.
type Generator struct {
	logger     *slog.Logger
	templates  *TemplateManager
	archetypes map[Kind]Archetype
	maxPrompt  int
}

func New(cfg Config, logger *slog.Logger) (*Generator, error) {
	tm, err := NewTemplateManager(logger, cfg.TemplateDir)
	if err != nil {
		return nil, err
	}
	maxPrompt := cfg.MaxPromptLength
	if maxPrompt <= 0 {
		maxPrompt = DefaultMaxPromptLength
	}
	return &Generator{
		logger:     logger,
		templates:  tm,
		archetypes: Archetypes(),
		maxPrompt:  maxPrompt,
	}, nil
}

func (g *Generator) Templates() *TemplateManager {
	return g.templates
}

// renderData is the dot of every project template.
type renderData struct {
	App    Archetype
	Prompt string
	Entity Entity
	Files  []string
}

type output struct {
	path     string
	template string
	entity   *Entity
}

// plan lists the files of an archetype in the order they are rendered.
// README.md comes last so it can list everything else.
func plan(a Archetype) []output {
	outs := []output{
		{path: "app.py", template: "app.py.tmpl"},
		{path: "extensions.py", template: "extensions.py.tmpl"},
		{path: "config.py", template: "config.py.tmpl"},
		{path: "models.py", template: "models.py.tmpl"},
		{path: "forms.py", template: "forms.py.tmpl"},
		{path: "routes.py", template: "routes.py.tmpl"},
		{path: "auth.py", template: "auth.py.tmpl"},
		{path: "api.py", template: "api.py.tmpl"},
		{path: "init_db.py", template: "init_db.py.tmpl"},
		{path: "run.py", template: "run.py.tmpl"},
		{path: "requirements.txt", template: "requirements.txt.tmpl"},
		{path: ".env.example", template: "env.example.tmpl"},
		{path: ".gitignore", template: "gitignore.tmpl"},
		{path: "templates/base.html", template: "base.html.tmpl"},
		{path: "templates/index.html", template: "index.html.tmpl"},
		{path: "templates/login.html", template: "login.html.tmpl"},
		{path: "templates/register.html", template: "register.html.tmpl"},
	}
	for _, e := range a.PageEntities() {
		e := e
		outs = append(outs,
			output{path: "templates/" + e.Plural + ".html", template: "entity_list.html.tmpl", entity: &e},
			output{path: "templates/" + e.Plural + "_form.html", template: "entity_form.html.tmpl", entity: &e},
		)
	}
	return append(outs,
		output{path: "static/css/style.css", template: "style.css.tmpl"},
		output{path: "static/js/main.js", template: "main.js.tmpl"},
		output{path: "README.md", template: "README.md.tmpl"},
	)
}

// Generate classifies prompt and renders the matching project.
func (g *Generator) Generate(prompt string) (*Project, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if utf8.RuneCountInString(prompt) > g.maxPrompt {
		return nil, fmt.Errorf("%w: at most %d characters", ErrPromptTooLong, g.maxPrompt)
	}
	kind := Classify(prompt)
	return g.GenerateKind(kind, prompt)
}

// archetypeData returns the archetype of kind, its render plan and the data
// shared by every file of the project.
func (g *Generator) archetypeData(kind Kind, prompt string) (Archetype, []output, renderData, error) {
	a, ok := g.archetypes[kind]
	if !ok {
		return Archetype{}, nil, renderData{}, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	outs := plan(a)
	data := renderData{App: a, Prompt: strings.Join(strings.Fields(prompt), " ")}
	for _, o := range outs {
		data.Files = append(data.Files, o.path)
	}
	sort.Strings(data.Files)
	return a, outs, data, nil
}

// GenerateKind renders the project of a given archetype.
func (g *Generator) GenerateKind(kind Kind, prompt string) (*Project, error) {
	a, outs, data, err := g.archetypeData(kind, prompt)
	if err != nil {
		return nil, err
	}

	project := &Project{
		Name:   strings.ReplaceAll(strings.ToLower(a.Title), " ", "-"),
		Title:  a.Title,
		Prompt: prompt,
		Kind:   kind,
		Files:  make([]File, 0, len(outs)),
	}
	for _, o := range outs {
		d := data
		if o.entity != nil {
			d.Entity = *o.entity
		}
		var buf bytes.Buffer
		if err := g.templates.Execute(&buf, o.template, d); err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", o.path, err)
		}
		project.Files = append(project.Files, File{Path: o.path, Content: tidy(buf.Bytes())})
	}

	g.logger.Debug("Generated project", "kind", kind, "files", len(project.Files), "bytes", project.Size())
	return project, nil
}

// sampleData is the data templates see for kind, with the first page entity
// filled in so entity templates render too.
func (g *Generator) sampleData(kind Kind) (renderData, error) {
	a, _, data, err := g.archetypeData(kind, "")
	if err != nil {
		return renderData{}, err
	}
	data.Prompt = "A sample " + strings.ToLower(a.Title)
	if entities := a.PageEntities(); len(entities) > 0 {
		data.Entity = entities[0]
	}
	return data, nil
}

// RenderSample executes a loaded template against sample data of kind.
func (g *Generator) RenderSample(w io.Writer, kind Kind, name string) error {
	data, err := g.sampleData(kind)
	if err != nil {
		return err
	}
	return g.templates.Execute(w, name, data)
}

// RenderSampleString parses content as a template, which may call any loaded
// template, and executes it against sample data of kind.
func (g *Generator) RenderSampleString(w io.Writer, kind Kind, content string) error {
	data, err := g.sampleData(kind)
	if err != nil {
		return err
	}
	return g.templates.ExecuteTemplateString(w, content, data)
}

// tidy collapses runs of more than two blank lines and ensures a single
// trailing newline.
func tidy(b []byte) []byte {
	lines := strings.Split(string(b), "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 2 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	s := strings.TrimRight(strings.Join(out, "\n"), "\n")
	return []byte(strings.TrimLeft(s, "\n") + "\n")
}
