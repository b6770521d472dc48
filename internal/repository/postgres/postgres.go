package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/sitedeploy/internal/domain"
	"github.com/splax/sitedeploy/internal/repository"
)

const uniqueViolation = "23505"

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.Store                = (*Repository)(nil)
)

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner_id, name, description, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		project.ID,
		project.OwnerID,
		project.Name,
		project.Description,
		jsonOrNil(project.Content),
		project.CreatedAt,
		project.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("project %q: %w", project.ID, repository.ErrAlreadyExists)
	}
	return err
}

// GetProjectByID retrieves a project and its content snapshot.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, owner_id, name, description, content, created_at, updated_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var project domain.Project
	var content []byte
	if err := row.Scan(&project.ID, &project.OwnerID, &project.Name, &project.Description, &content, &project.CreatedAt, &project.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(content) > 0 {
		project.Content = json.RawMessage(content)
	}
	return &project, nil
}

// UpdateProjectContent replaces the stored content snapshot.
func (r *Repository) UpdateProjectContent(ctx context.Context, projectID string, content []byte) error {
	const query = `UPDATE projects SET content = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, jsonOrNil(content))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateDeployment records a new deployment.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, owner_id, project_name, status, output_path, file_count, bytes_written, error, started_at, completed_at, duration_ms, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID,
		deployment.ProjectID,
		deployment.OwnerID,
		deployment.ProjectName,
		deployment.Status,
		deployment.OutputPath,
		deployment.FileCount,
		deployment.BytesWritten,
		deployment.Error,
		deployment.StartedAt,
		deployment.CompletedAt,
		deployment.DurationMillis,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("deployment %q: %w", deployment.ID, repository.ErrAlreadyExists)
	}
	return err
}

// UpdateDeploymentStatus updates deployment status.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error {
	const query = `UPDATE deployments
		SET status = COALESCE($2, status),
			output_path = COALESCE($3, output_path),
			file_count = $4,
			bytes_written = $5,
			error = COALESCE($6, error),
			completed_at = $7,
			duration_ms = $8,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		update.DeploymentID,
		emptyToNil(string(update.Status)),
		emptyToNil(update.OutputPath),
		update.FileCount,
		update.BytesWritten,
		emptyToNil(update.Error),
		update.CompletedAt,
		update.DurationMillis,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDeploymentsByProject fetches recent deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = repository.DefaultListLimit
	}
	const query = `SELECT id, project_id, owner_id, project_name, status, output_path, file_count, bytes_written, error, started_at, completed_at, duration_ms
		FROM deployments WHERE project_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
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
	const query = `SELECT id, project_id, owner_id, project_name, status, output_path, file_count, bytes_written, error, started_at, completed_at, duration_ms
		FROM deployments WHERE id = $1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, deploymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanDeployment(row pgx.Row) (domain.Deployment, error) {
	var d domain.Deployment
	var completedAt *time.Time
	if err := row.Scan(&d.ID, &d.ProjectID, &d.OwnerID, &d.ProjectName, &d.Status, &d.OutputPath, &d.FileCount, &d.BytesWritten, &d.Error, &d.StartedAt, &completedAt, &d.DurationMillis); err != nil {
		return domain.Deployment{}, err
	}
	d.CompletedAt = completedAt
	return d, nil
}

func emptyToNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func jsonOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
