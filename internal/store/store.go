// Package store persists projects and their append-only event logs in
// Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the SQL database.
type Store struct {
	DB *sql.DB
}

// Project statuses. A project is in production iff it carries a
// manifest; UpdateProjectManifest maintains that invariant.
const (
	ProjectStatusDevelopment = "development"
	ProjectStatusProduction  = "production"
)

// Event sources.
const (
	SourceUser     = "USER"
	SourceDirector = "DIRECTOR"
	SourceProducer = "PRODUCER"
	SourceExpert   = "EXPERT"
	SourceSystem   = "SYSTEM"
)

// Event types.
const (
	EventChat    = "chat"
	EventLog     = "log"
	EventError   = "error"
	EventCommand = "command"
)

// Project is one production session.
type Project struct {
	ID              string
	Name            string
	Status          string
	CurrentManifest []byte // raw JSON, nil in development mode
	CreatedAt       time.Time
}

// Event is one append-only log row.
type Event struct {
	ID        int64
	ProjectID string
	Source    string
	Type      string
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// NewWithDSN opens a connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// GetOrCreateProject fetches a project, lazily creating it on first
// interaction.
func (s *Store) GetOrCreateProject(ctx context.Context, id string) (Project, error) {
	if strings.TrimSpace(id) == "" {
		return Project{}, fmt.Errorf("project id required")
	}
	p, ok, err := s.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if ok {
		return p, nil
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO projects (id, name, status)
VALUES ($1, 'New Session', $2)
ON CONFLICT (id) DO UPDATE SET name = projects.name
RETURNING id, name, status, current_manifest, created_at
`, id, ProjectStatusDevelopment)
	return scanProject(row)
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (Project, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, name, status, current_manifest, created_at FROM projects WHERE id=$1
`, id)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, false, nil
		}
		return Project{}, false, err
	}
	return p, true, nil
}

// UpdateProjectManifest stores the active manifest. A non-nil payload
// moves the project to production; nil clears it back to development.
func (s *Store) UpdateProjectManifest(ctx context.Context, id string, manifestJSON []byte) error {
	status := ProjectStatusDevelopment
	var payload interface{}
	if len(manifestJSON) > 0 {
		status = ProjectStatusProduction
		payload = string(manifestJSON)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE projects SET status=$2, current_manifest=$3 WHERE id=$1
`, id, status, payload)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("project not found: %s", id)
	}
	return nil
}

// LogEvent appends one event and returns its id.
func (s *Store) LogEvent(ctx context.Context, projectID string, ev Event) (int64, error) {
	if ev.Source == "" {
		return 0, fmt.Errorf("event source required")
	}
	if ev.Type == "" {
		ev.Type = EventChat
	}
	var metadata interface{}
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(b)
	}
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO events (project_id, source, type, content, metadata)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, projectID, ev.Source, ev.Type, ev.Content, metadata).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListEvents returns all events for a project in insertion order.
func (s *Store) ListEvents(ctx context.Context, projectID string) ([]Event, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, project_id, source, type, content, metadata, created_at
FROM events WHERE project_id=$1 ORDER BY id ASC
`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var metadata sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.Source, &ev.Type, &ev.Content, &metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt metadata on event %d: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ClearEvents deletes every event for a project. Projects themselves
// are never deleted.
func (s *Store) ClearEvents(ctx context.Context, projectID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM events WHERE project_id=$1`, projectID)
	return err
}

func scanProject(row *sql.Row) (Project, error) {
	var p Project
	var manifest sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Status, &manifest, &p.CreatedAt); err != nil {
		return Project{}, err
	}
	if manifest.Valid && manifest.String != "" {
		p.CurrentManifest = []byte(manifest.String)
	}
	return p, nil
}
