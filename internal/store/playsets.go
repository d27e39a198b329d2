package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Playset is an execution template: image, start command, and limits.
type Playset struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	Runtime            string    `json:"runtime"`
	Description        string    `json:"description"`
	DockerImage        string    `json:"dockerImage"`
	StartCommand       string    `json:"startCommand"`
	DefaultCommand     string    `json:"defaultCommand"`
	Enabled            int       `json:"enabled"`
	MaxSessions        int       `json:"maxSessions"`
	IdleTimeoutSeconds int       `json:"idleTimeoutSeconds"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

var defaultPlaysets = []Playset{
	{
		Name:               "Node.js Shell",
		Slug:               "node-shell",
		Runtime:            "node",
		Description:        "Run Node commands and scripts inside an isolated container.",
		DockerImage:        "node:22-alpine",
		StartCommand:       "tail -f /dev/null",
		DefaultCommand:     "node -v",
		Enabled:            1,
		MaxSessions:        6,
		IdleTimeoutSeconds: 900,
	},
	{
		Name:               "Python Shell",
		Slug:               "python-shell",
		Runtime:            "python",
		Description:        "Execute Python scripts in a disposable environment.",
		DockerImage:        "python:3.12-alpine",
		StartCommand:       "tail -f /dev/null",
		DefaultCommand:     "python --version",
		Enabled:            1,
		MaxSessions:        6,
		IdleTimeoutSeconds: 900,
	},
	{
		Name:               "Rust Shell",
		Slug:               "rust-shell",
		Runtime:            "rust",
		Description:        "Compile and run Rust snippets from an isolated toolchain container.",
		DockerImage:        "rust:1.83-alpine3.20",
		StartCommand:       "tail -f /dev/null",
		DefaultCommand:     "rustc --version",
		Enabled:            1,
		MaxSessions:        4,
		IdleTimeoutSeconds: 1200,
	},
}

// SeedDefaultPlaysets inserts the built-in playsets when the table is
// empty. Existing rows are left alone so admin edits survive restarts.
func (s *Store) SeedDefaultPlaysets() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM playsets`).Scan(&count); err != nil {
		return fmt.Errorf("counting playsets: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, p := range defaultPlaysets {
		err := retryOnBusy(func() error {
			_, e := s.db.Exec(
				`INSERT INTO playsets (
					name, slug, runtime, description, docker_image, start_command,
					default_command, enabled, max_sessions, idle_timeout_seconds,
					created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.Name, p.Slug, p.Runtime, p.Description, p.DockerImage, p.StartCommand,
				p.DefaultCommand, p.Enabled, p.MaxSessions, p.IdleTimeoutSeconds,
				now, now,
			)
			return e
		})
		if err != nil {
			return fmt.Errorf("seeding playset %s: %w", p.Slug, err)
		}
	}
	return nil
}

const playsetColumns = `id, name, slug, runtime, description, docker_image, start_command,
	default_command, enabled, max_sessions, idle_timeout_seconds, created_at, updated_at`

func (s *Store) GetPlaysetByID(id int64) (*Playset, error) {
	row := s.db.QueryRow(
		`SELECT `+playsetColumns+` FROM playsets WHERE id = ?`, id,
	)
	return scanPlayset(row)
}

func (s *Store) GetPlaysetBySlug(slug string) (*Playset, error) {
	row := s.db.QueryRow(
		`SELECT `+playsetColumns+` FROM playsets WHERE slug = ?`, slug,
	)
	return scanPlayset(row)
}

func (s *Store) ListPlaysets() ([]*Playset, error) {
	rows, err := s.db.Query(
		`SELECT ` + playsetColumns + ` FROM playsets ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing playsets: %w", err)
	}
	defer rows.Close()

	var playsets []*Playset
	for rows.Next() {
		p, err := scanPlayset(rows)
		if err != nil {
			return nil, err
		}
		playsets = append(playsets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating playsets: %w", err)
	}
	return playsets, nil
}

func scanPlayset(row scannable) (*Playset, error) {
	var p Playset
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Runtime, &p.Description, &p.DockerImage,
		&p.StartCommand, &p.DefaultCommand, &p.Enabled, &p.MaxSessions,
		&p.IdleTimeoutSeconds, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning playset: %w", err)
	}
	return &p, nil
}
