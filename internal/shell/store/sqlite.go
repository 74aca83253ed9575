package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Pipeline Run Operations
// =============================================================================

type runRow struct {
	ID         string     `db:"id"`
	Revision   string     `db:"revision"`
	Status     string     `db:"status"`
	Error      string     `db:"error"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

func (r runRow) toDomain() domain.PipelineRun {
	return domain.PipelineRun{
		ID:         r.ID,
		Revision:   r.Revision,
		Status:     domain.RunStatus(r.Status),
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// CreateRun inserts a new pipeline run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.PipelineRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, revision, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Revision, string(run.Status), run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRun updates an existing run's status, error and finish time.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.PipelineRun) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET status = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		string(run.Status), run.Error, run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun returns one pipeline run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM pipeline_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	run := row.toDomain()
	return &run, nil
}

// ListRuns returns the most recent pipeline runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]domain.PipelineRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toDomain())
	}
	return runs, nil
}

// =============================================================================
// Target Operations
// =============================================================================

type targetRow struct {
	Name       string    `db:"name"`
	Host       string    `db:"host"`
	SSHUser    string    `db:"ssh_user"`
	SSHPort    int       `db:"ssh_port"`
	Ports      string    `db:"ports"`
	Volumes    string    `db:"volumes"`
	RunningTag string    `db:"running_tag"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// SaveTarget upserts a deployment target record. Env values are runtime
// secrets and are deliberately not persisted.
func (s *SQLiteStore) SaveTarget(ctx context.Context, target *domain.DeploymentTarget) error {
	ports, err := json.Marshal(target.Ports)
	if err != nil {
		return fmt.Errorf("marshal ports: %w", err)
	}
	volumes, err := json.Marshal(target.Volumes)
	if err != nil {
		return fmt.Errorf("marshal volumes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO targets (name, host, ssh_user, ssh_port, ports, volumes, running_tag, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			host = excluded.host,
			ssh_user = excluded.ssh_user,
			ssh_port = excluded.ssh_port,
			ports = excluded.ports,
			volumes = excluded.volumes,
			updated_at = excluded.updated_at`,
		target.Name, target.Host, target.SSHUser, target.SSHPort,
		string(ports), string(volumes), target.RunningTag, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save target %s: %w", target.Name, err)
	}
	return nil
}

// GetTarget returns one deployment target by its logical name.
func (s *SQLiteStore) GetTarget(ctx context.Context, name string) (*domain.DeploymentTarget, error) {
	var row targetRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM targets WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target %s: %w", name, err)
	}

	target := domain.DeploymentTarget{
		Name:       row.Name,
		Host:       row.Host,
		SSHUser:    row.SSHUser,
		SSHPort:    row.SSHPort,
		RunningTag: row.RunningTag,
		UpdatedAt:  row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Ports), &target.Ports); err != nil {
		return nil, fmt.Errorf("unmarshal ports: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Volumes), &target.Volumes); err != nil {
		return nil, fmt.Errorf("unmarshal volumes: %w", err)
	}
	return &target, nil
}

// RecordRunningTag records the artifact tag now running on the target.
func (s *SQLiteStore) RecordRunningTag(ctx context.Context, targetName, tag string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE targets SET running_tag = ?, updated_at = ? WHERE name = ?`,
		tag, time.Now(), targetName,
	)
	if err != nil {
		return fmt.Errorf("record running tag for %s: %w", targetName, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
