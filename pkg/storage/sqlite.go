package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/geoge23/fats/pkg/types"
	_ "modernc.org/sqlite" // SQLite driver registration
)

// SQLiteStore is the Store implementation backing a single fats
// process. It wraps a *sql.DB with a mutex: SQLite serializes writers
// internally, but the generation-counter read-increment-persist
// sequence (NextGeneration) and UpsertProject's lookup-then-write must
// each run as one atomic unit, so those two (and
// GetProjectByNameVersion) take this lock. The other writes are single
// statements and do not take it.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path and ensures its schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			name            TEXT NOT NULL,
			version         TEXT NOT NULL,
			image           TEXT NOT NULL,
			desired_secrets TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			UNIQUE(name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_projects_name ON projects(name);

		CREATE TABLE IF NOT EXISTS service_records (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			generation   INTEGER NOT NULL,
			container_id TEXT NOT NULL,
			hostname     TEXT NOT NULL,
			port         INTEGER NOT NULL,
			project_id   INTEGER NOT NULL REFERENCES projects(id),
			created_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_service_records_project ON service_records(project_id);
		CREATE INDEX IF NOT EXISTS idx_service_records_generation ON service_records(generation);

		CREATE TABLE IF NOT EXISTS generation_counter (
			id    INTEGER PRIMARY KEY,
			value INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

const timeLayout = time.RFC3339Nano

// UpsertProject inserts a Project, or overwrites the existing row for
// the same (Name, Version) pair on conflict. Returns the persisted row
// with its id and timestamps populated.
func (s *SQLiteStore) UpsertProject(ctx context.Context, p *types.Project) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	secrets := strings.Join(p.DesiredSecrets, ",")

	existing, err := s.getProjectByNameVersionLocked(ctx, p.Name, p.Version)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	if err == ErrNotFound {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO projects (name, version, image, desired_secrets, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.Name, p.Version, p.Image, secrets, now.Format(timeLayout), now.Format(timeLayout))
		if err != nil {
			return nil, fmt.Errorf("inserting project: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading inserted project id: %w", err)
		}
		p.ID = id
		p.CreatedAt = now
		p.UpdatedAt = now
		return p, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE projects SET image = ?, desired_secrets = ?, updated_at = ?
		WHERE id = ?
	`, p.Image, secrets, now.Format(timeLayout), existing.ID)
	if err != nil {
		return nil, fmt.Errorf("overwriting project: %w", err)
	}
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now
	return p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, image, desired_secrets, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row)
}

func (s *SQLiteStore) GetProjectByNameVersion(ctx context.Context, name, version string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getProjectByNameVersionLocked(ctx, name, version)
}

func (s *SQLiteStore) getProjectByNameVersionLocked(ctx context.Context, name, version string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, image, desired_secrets, created_at, updated_at
		FROM projects WHERE name = ? AND version = ?
	`, name, version)
	return scanProject(row)
}

// ListProjectVersions returns every Project row for name, ordered by
// version descending (lexicographic), for proxy version resolution.
func (s *SQLiteStore) ListProjectVersions(ctx context.Context, name string) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version, image, desired_secrets, created_at, updated_at
		FROM projects WHERE name = ? ORDER BY version DESC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("listing project versions: %w", err)
	}
	defer rows.Close()
	return scanProjects(rows)
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version, image, desired_secrets, created_at, updated_at
		FROM projects ORDER BY name, version
	`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()
	return scanProjects(rows)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return nil
}

func scanProject(row *sql.Row) (*types.Project, error) {
	var p types.Project
	var secrets, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.Version, &p.Image, &secrets, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning project: %w", err)
	}
	p.DesiredSecrets = splitSecrets(secrets)
	p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &p, nil
}

func scanProjects(rows *sql.Rows) ([]*types.Project, error) {
	var out []*types.Project
	for rows.Next() {
		var p types.Project
		var secrets, createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Version, &p.Image, &secrets, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		p.DesiredSecrets = splitSecrets(secrets)
		p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

func splitSecrets(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (s *SQLiteStore) CreateServiceRecord(ctx context.Context, r *types.ServiceRecord) (*types.ServiceRecord, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO service_records (generation, container_id, hostname, port, project_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Generation, r.ContainerID, r.Hostname, r.Port, r.ProjectID, now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("inserting service record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading inserted service record id: %w", err)
	}
	r.ID = id
	r.CreatedAt = now
	return r, nil
}

func (s *SQLiteStore) UpdateServiceRecord(ctx context.Context, r *types.ServiceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE service_records SET generation = ?, container_id = ?, hostname = ?, port = ?
		WHERE id = ?
	`, r.Generation, r.ContainerID, r.Hostname, r.Port, r.ID)
	if err != nil {
		return fmt.Errorf("updating service record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteServiceRecord(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting service record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListServiceRecords(ctx context.Context) ([]*types.ServiceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, generation, container_id, hostname, port, project_id, created_at
		FROM service_records
	`)
	if err != nil {
		return nil, fmt.Errorf("listing service records: %w", err)
	}
	defer rows.Close()

	var out []*types.ServiceRecord
	for rows.Next() {
		var r types.ServiceRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Generation, &r.ContainerID, &r.Hostname, &r.Port, &r.ProjectID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning service record: %w", err)
		}
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetServiceRecordByProject(ctx context.Context, projectID int64) (*types.ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, generation, container_id, hostname, port, project_id, created_at
		FROM service_records WHERE project_id = ? LIMIT 1
	`, projectID)
	var r types.ServiceRecord
	var createdAt string
	err := row.Scan(&r.ID, &r.Generation, &r.ContainerID, &r.Hostname, &r.Port, &r.ProjectID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning service record: %w", err)
	}
	r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &r, nil
}

// NextGeneration returns the generation number for this process
// lifetime, initializing the singleton row on first call and
// incrementing it on every subsequent process start. It is strictly
// monotonic across restarts.
func (s *SQLiteStore) NextGeneration(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning generation transaction: %w", err)
	}
	defer tx.Rollback()

	var value int64
	err = tx.QueryRowContext(ctx, `SELECT value FROM generation_counter WHERE id = ?`, types.GenerationSingletonID).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		value = 1
		if _, err := tx.ExecContext(ctx, `INSERT INTO generation_counter (id, value) VALUES (?, ?)`, types.GenerationSingletonID, value); err != nil {
			return 0, fmt.Errorf("initializing generation counter: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("reading generation counter: %w", err)
	default:
		value++
		if _, err := tx.ExecContext(ctx, `UPDATE generation_counter SET value = ? WHERE id = ?`, value, types.GenerationSingletonID); err != nil {
			return 0, fmt.Errorf("incrementing generation counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing generation transaction: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) UpsertSecret(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, value, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upserting secret: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSecret(ctx context.Context, name string) (*types.Secret, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, value, updated_at FROM secrets WHERE name = ?`, name)
	var sec types.Secret
	var updatedAt string
	err := row.Scan(&sec.Name, &sec.Value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning secret: %w", err)
	}
	sec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &sec, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
