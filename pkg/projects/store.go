// Package projects stores generated projects: a metadata row per project and
// the zip archive on disk. Every lookup is scoped to the owning user.
package projects

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/CTAG07/webgen/pkg/generator"
)

const projectSchema = `
CREATE TABLE IF NOT EXISTS projects (
    id          TEXT    PRIMARY KEY,
    user_id     INTEGER NOT NULL,
    name        TEXT    NOT NULL,
    title       TEXT    NOT NULL,
    prompt      TEXT    NOT NULL,
    kind        TEXT    NOT NULL,
    file_count  INTEGER NOT NULL,
    size        INTEGER NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS projects_user_created ON projects (user_id, created_at);
`

var ErrNotFound = errors.New("project not found")

// SetupSchema creates the projects table. It is idempotent.
func SetupSchema(db *sql.DB) error {
	_, err := db.Exec(projectSchema)
	return err
}

// Project is the stored metadata of a generated project.
type Project struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Prompt    string    `json:"prompt"`
	Kind      string    `json:"kind"`
	FileCount int       `json:"file_count"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Filename is the download name of the archive.
func (p *Project) Filename() string {
	return p.Name + ".zip"
}

type Store struct {
	db  *sql.DB
	dir string
	now func() time.Time
}

// NewStore returns a Store that keeps archives in dir, creating it if needed.
func NewStore(db *sql.DB, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Store{db: db, dir: dir, now: time.Now}, nil
}

func (s *Store) archivePath(id string) string {
	return filepath.Join(s.dir, id+".zip")
}

// Create writes the archive of gp and records it for userID.
func (s *Store) Create(ctx context.Context, userID int64, gp *generator.Project) (*Project, error) {
	var buf bytes.Buffer
	if err := generator.WriteArchive(&buf, gp.Files); err != nil {
		return nil, err
	}

	p := &Project{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      gp.Name,
		Title:     gp.Title,
		Prompt:    gp.Prompt,
		Kind:      string(gp.Kind),
		FileCount: len(gp.Files),
		Size:      int64(buf.Len()),
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}

	path := s.archivePath(p.ID)
	if err := atomic.WriteFile(path, &buf); err != nil {
		return nil, fmt.Errorf("failed to write archive: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO projects (id, user_id, name, title, prompt, kind, file_count, size, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, p.ID, p.UserID, p.Name, p.Title, p.Prompt, p.Kind, p.FileCount, p.Size, p.CreatedAt.Unix())
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	return p, nil
}

// List returns the projects of userID, newest first.
func (s *Store) List(ctx context.Context, userID int64) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, name, title, prompt, kind, file_count, size, created_at
        FROM projects WHERE user_id = ? ORDER BY created_at DESC, id
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	projects := make([]Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// Get returns project id if it belongs to userID.
func (s *Store) Get(ctx context.Context, userID int64, id string) (*Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, user_id, name, title, prompt, kind, file_count, size, created_at
        FROM projects WHERE id = ? AND user_id = ?
    `, id, userID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// Open returns the archive of project id. The caller closes the file.
func (s *Store) Open(ctx context.Context, userID int64, id string) (*Project, *os.File, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.archivePath(p.ID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return p, f, nil
}

// Delete removes project id and its archive.
func (s *Store) Delete(ctx context.Context, userID int64, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if err = os.Remove(s.archivePath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove archive: %w", err)
	}
	return nil
}

// Count returns how many projects exist in total.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(sc scanner) (*Project, error) {
	var p Project
	var created int64
	if err := sc.Scan(&p.ID, &p.UserID, &p.Name, &p.Title, &p.Prompt, &p.Kind, &p.FileCount, &p.Size, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	return &p, nil
}
