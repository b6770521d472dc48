package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/splax/sitedeploy/internal/domain"
	"github.com/splax/sitedeploy/internal/repository"
)

// Repository implements the repository interfaces backed by SQLite.
// Timestamps are stored as Unix milliseconds.
type Repository struct {
	DB *sql.DB

	now func() time.Time
}

// New wraps an open database.
func New(db *sql.DB) *Repository {
	return &Repository{DB: db, now: time.Now}
}

var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.Store                = (*Repository)(nil)
)

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

// Close closes the database.
func (r *Repository) Close() {
	_ = r.DB.Close()
}

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	created := project.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	updated := project.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO projects (id, owner_id, name, description, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.OwnerID, project.Name, project.Description,
		nullBytes(project.Content), created.UnixMilli(), updated.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("project %q: %w", project.ID, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProjectByID retrieves a project and its content snapshot.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, owner_id, name, description, content, created_at, updated_at
		 FROM projects WHERE id = ?`,
		projectID,
	)
	var (
		p                domain.Project
		content          sql.NullString
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &content, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	if content.Valid && content.String != "" {
		p.Content = json.RawMessage(content.String)
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return &p, nil
}

// UpdateProjectContent replaces the stored content snapshot.
func (r *Repository) UpdateProjectContent(ctx context.Context, projectID string, content []byte) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE projects SET content = ?, updated_at = ? WHERE id = ?`,
		nullBytes(content), r.now().UnixMilli(), projectID,
	)
	if err != nil {
		return fmt.Errorf("update project content: %w", err)
	}
	return requireAffected(res)
}

// CreateDeployment records a new deployment.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO deployments (id, project_id, owner_id, project_name, status, output_path, file_count, bytes_written, error, started_at, completed_at, duration_ms, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.OwnerID, d.ProjectName, string(d.Status), d.OutputPath,
		d.FileCount, d.BytesWritten, d.Error, d.StartedAt.UnixMilli(), nullMillis(d.CompletedAt),
		d.DurationMillis, r.now().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("deployment %q: %w", d.ID, repository.ErrAlreadyExists)
		}
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

// UpdateDeploymentStatus updates deployment status.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE deployments
		 SET status = COALESCE(?, status),
		     output_path = COALESCE(?, output_path),
		     file_count = ?,
		     bytes_written = ?,
		     error = COALESCE(?, error),
		     completed_at = ?,
		     duration_ms = ?,
		     updated_at = ?
		 WHERE id = ?`,
		emptyToNil(string(update.Status)), emptyToNil(update.OutputPath), update.FileCount,
		update.BytesWritten, emptyToNil(update.Error), nullMillis(update.CompletedAt),
		update.DurationMillis, r.now().UnixMilli(), update.DeploymentID,
	)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	return requireAffected(res)
}

// ListDeploymentsByProject fetches recent deployments for a project, newest first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = repository.DefaultListLimit
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, project_id, owner_id, project_name, status, output_path, file_count, bytes_written, error, started_at, completed_at, duration_ms
		 FROM deployments WHERE project_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, project_id, owner_id, project_name, status, output_path, file_count, bytes_written, error, started_at, completed_at, duration_ms
		 FROM deployments WHERE id = ?`,
		deploymentID,
	)
	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (domain.Deployment, error) {
	var (
		d         domain.Deployment
		status    string
		started   int64
		completed sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.ProjectID, &d.OwnerID, &d.ProjectName, &status, &d.OutputPath, &d.FileCount, &d.BytesWritten, &d.Error, &started, &completed, &d.DurationMillis); err != nil {
		return domain.Deployment{}, err
	}
	d.Status = domain.DeployStatus(status)
	d.StartedAt = time.UnixMilli(started).UTC()
	if completed.Valid {
		t := time.UnixMilli(completed.Int64).UTC()
		d.CompletedAt = &t
	}
	return d, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func emptyToNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
