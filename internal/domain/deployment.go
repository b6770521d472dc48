package domain

import "time"

// Deployment captures a single materialization attempt.
type Deployment struct {
	ID             string
	ProjectID      string
	OwnerID        string
	ProjectName    string
	Status         DeployStatus
	OutputPath     string
	FileCount      int
	BytesWritten   int64
	Error          string
	StartedAt      time.Time
	CompletedAt    *time.Time
	DurationMillis int64
}

// DeploymentStatusUpdate captures mutable fields for a deployment.
type DeploymentStatusUpdate struct {
	DeploymentID   string
	Status         DeployStatus
	OutputPath     string
	FileCount      int
	BytesWritten   int64
	Error          string
	CompletedAt    *time.Time
	DurationMillis int64
}
