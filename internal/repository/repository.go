package repository

import (
	"context"

	"github.com/splax/sitedeploy/internal/domain"
)

// ProjectRepository persists projects and their content snapshots.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	UpdateProjectContent(ctx context.Context, projectID string, content []byte) error
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	UpdateDeploymentStatus(ctx context.Context, update domain.DeploymentStatusUpdate) error
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store bundles every repository the API needs.
type Store interface {
	ProjectRepository
	DeploymentRepository
	Pinger
	Close()
}

// DefaultListLimit bounds list queries when the caller passes a non-positive limit.
const DefaultListLimit = 20
