package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DeployInput captures the payload of a deploy request.
type DeployInput struct {
	ProjectID               string `json:"projectId"`
	ProjectName             string `json:"projectName"`
	Description             string `json:"description,omitempty"`
	IncludeAssets           bool   `json:"includeAssets"`
	CreateIsolatedFolder    bool   `json:"createIsolatedFolder"`
	GenerateAuxiliaryScript bool   `json:"generateAuxiliaryScript"`
	ServerKind              string `json:"serverKind,omitempty"`
	DomainName              string `json:"domainName,omitempty"`
}

// DeployResult is the body of a successful deploy.
type DeployResult struct {
	Success          bool    `json:"success"`
	DeploymentID     string  `json:"deploymentId"`
	ProjectID        string  `json:"projectId"`
	ProjectName      string  `json:"projectName"`
	OutputPath       string  `json:"outputPath"`
	FileCount        int     `json:"fileCount"`
	ScriptPath       *string `json:"scriptPath"`
	DeployTimeMillis int64   `json:"deployTimeMillis"`
}

// Progress mirrors the live progress of an in-flight deploy.
type Progress struct {
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	TotalFiles     int        `json:"totalFiles"`
	ProcessedFiles int        `json:"processedFiles"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Deployment is one entry of the deploy history.
type Deployment struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"projectId"`
	ProjectName    string     `json:"projectName"`
	Status         string     `json:"status"`
	OutputPath     string     `json:"outputPath"`
	FileCount      int        `json:"fileCount"`
	BytesWritten   int64      `json:"bytesWritten"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	DurationMillis int64      `json:"durationMillis"`
}

// Deploy materializes a project on the server.
func (c *Client) Deploy(ctx context.Context, token string, input DeployInput) (DeployResult, error) {
	var result DeployResult
	if err := c.do(ctx, http.MethodPost, "/deploy", input, token, &result); err != nil {
		return DeployResult{}, err
	}
	return result, nil
}

// Progress returns the live progress of the caller's in-flight deploy for projectID.
func (c *Client) Progress(ctx context.Context, token, projectID string) (Progress, error) {
	path := fmt.Sprintf("/deploy/progress?projectId=%s", url.QueryEscape(projectID))
	var progress Progress
	if err := c.do(ctx, http.MethodGet, path, nil, token, &progress); err != nil {
		return Progress{}, err
	}
	return progress, nil
}

// ListDeployments fetches recent deployments for a project.
func (c *Client) ListDeployments(ctx context.Context, token, projectID string, limit int) ([]Deployment, error) {
	query := url.Values{}
	query.Set("projectId", projectID)
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var deployments []Deployment
	if err := c.do(ctx, http.MethodGet, "/deploys?"+query.Encode(), nil, token, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}
