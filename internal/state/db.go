package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// DB is the SQLite-backed Store implementation.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the autoforge database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "autoforge", "autoforge.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// migrate applies all pending schema migrations.
func (db *DB) migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Projects},
		{2, migrationV2Tasks},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Projects = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	framework TEXT,
	status TEXT NOT NULL DEFAULT 'planning',
	progress REAL NOT NULL DEFAULT 0.0,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	description TEXT,
	depends_on TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	target TEXT,
	result TEXT,
	progress REAL NOT NULL DEFAULT 0.0,
	error TEXT,
	failure_reason TEXT,
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// CreateProject persists a new project record.
func (db *DB) CreateProject(p *models.Project) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO projects (id, name, description, framework, status, progress, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.Framework, string(p.Status), p.Progress,
		formatTime(p.CreatedAt), formatNullableTime(p.CompletedAt))
	if err != nil {
		return fmt.Errorf("create project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject returns the project, or ErrProjectNotFound.
func (db *DB) GetProject(id string) (*models.Project, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, name, description, framework, status, progress, created_at, completed_at
		FROM projects WHERE id = ?
	`, id)

	p := &models.Project{}
	var status, createdAt string
	var completedAt sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Framework, &status, &p.Progress, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", autoerr.ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}

	p.Status = models.ProjectStatus(status)
	p.CreatedAt, _ = parseTime(createdAt)
	p.CompletedAt = parseNullableTime(completedAt)
	return p, nil
}

// ListProjects returns every project, newest first.
func (db *DB) ListProjects() ([]*models.Project, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, name, description, framework, status, progress, created_at, completed_at
		FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		var status, createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Framework, &status, &p.Progress, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Status = models.ProjectStatus(status)
		p.CreatedAt, _ = parseTime(createdAt)
		p.CompletedAt = parseNullableTime(completedAt)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject persists project status and progress.
func (db *DB) UpdateProject(p *models.Project) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`
		UPDATE projects SET name = ?, description = ?, framework = ?, status = ?, progress = ?, completed_at = ?
		WHERE id = ?
	`, p.Name, p.Description, p.Framework, string(p.Status), p.Progress,
		formatNullableTime(p.CompletedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", autoerr.ErrProjectNotFound, p.ID)
	}
	return nil
}

// DeleteProject removes a project and its tasks.
func (db *DB) DeleteProject(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM tasks WHERE project_id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete tasks for project %s: %w", id, err)
	}
	if _, err := tx.Exec("DELETE FROM projects WHERE id = ?", id); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return tx.Commit()
}

// CreateTask persists a new task record.
func (db *DB) CreateTask(t *models.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	resultJSON, err := marshalResult(t.Result)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(`
		INSERT INTO tasks (id, project_id, kind, description, depends_on, status, priority,
			attempts, target, result, progress, error, failure_reason, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.ProjectID, string(t.Kind), t.Description, strings.Join(t.DependsOn, ","),
		string(t.Status), t.Priority, t.Attempts, t.Target, resultJSON, t.Progress,
		t.Error, t.FailureReason, formatTime(t.CreatedAt),
		formatNullableTime(t.StartedAt), formatNullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask returns the task, or ErrTaskNotFound.
func (db *DB) GetTask(id string) (*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(taskSelect+" WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", autoerr.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask persists the task's current status, attempts, and result.
func (db *DB) UpdateTask(t *models.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	resultJSON, err := marshalResult(t.Result)
	if err != nil {
		return err
	}
	res, err := db.conn.Exec(`
		UPDATE tasks SET status = ?, priority = ?, attempts = ?, target = ?, result = ?,
			progress = ?, error = ?, failure_reason = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`, string(t.Status), t.Priority, t.Attempts, t.Target, resultJSON, t.Progress,
		t.Error, t.FailureReason, formatNullableTime(t.StartedAt),
		formatNullableTime(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", autoerr.ErrTaskNotFound, t.ID)
	}
	return nil
}

// ListTasks returns every task belonging to a project.
func (db *DB) ListTasks(projectID string) ([]*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(taskSelect+" WHERE project_id = ? ORDER BY created_at", projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// RecomputeProgress reads all tasks of a project in one query, computes the
// aggregate fraction, and persists it on the project row.
func (db *DB) RecomputeProgress(projectID string) (float64, error) {
	tasks, err := db.ListTasks(projectID)
	if err != nil {
		return 0, err
	}
	progress := Progress(tasks)

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, err := db.conn.Exec("UPDATE projects SET progress = ? WHERE id = ?", progress, projectID); err != nil {
		return 0, fmt.Errorf("persist progress for project %s: %w", projectID, err)
	}
	return progress, nil
}

// FailureDetail enumerates per-task failure records for a project.
func (db *DB) FailureDetail(projectID string) ([]models.TaskFailure, error) {
	tasks, err := db.ListTasks(projectID)
	if err != nil {
		return nil, err
	}

	var failures []models.TaskFailure
	for _, t := range tasks {
		if t.Status != models.TaskStatusFailed {
			continue
		}
		failures = append(failures, models.TaskFailure{
			TaskID:   t.ID,
			Reason:   t.FailureReason,
			Error:    t.Error,
			Attempts: t.Attempts,
		})
	}
	return failures, nil
}

const taskSelect = `
	SELECT id, project_id, kind, description, depends_on, status, priority, attempts,
		target, result, progress, error, failure_reason, created_at, started_at, completed_at
	FROM tasks`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	t := &models.Task{}
	var kind, status, dependsOn, createdAt string
	var resultJSON, startedAt, completedAt sql.NullString

	err := row.Scan(&t.ID, &t.ProjectID, &kind, &t.Description, &dependsOn, &status,
		&t.Priority, &t.Attempts, &t.Target, &resultJSON, &t.Progress, &t.Error,
		&t.FailureReason, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Kind = models.TaskKind(kind)
	t.Status = models.TaskStatus(status)
	if dependsOn != "" {
		t.DependsOn = strings.Split(dependsOn, ",")
	}
	if resultJSON.Valid && resultJSON.String != "" {
		result := &models.TaskResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), result); err == nil {
			t.Result = result
		}
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.StartedAt = parseNullableTime(startedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return t, nil
}

func marshalResult(r *models.TaskResult) (string, error) {
	if r == nil {
		return "", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal task result: %w", err)
	}
	return string(data), nil
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
