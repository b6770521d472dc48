// Package repositorytest provides contract tests for [repository.Store]
// implementations.
package repositorytest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/splax/sitedeploy/internal/domain"
	"github.com/splax/sitedeploy/internal/repository"
)

// Factory creates a fresh, empty store for each test.
type Factory func(t *testing.T) repository.Store

// Run exercises the project and deployment repository contract.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	sampleProject := func() *domain.Project {
		return &domain.Project{
			ID:          "p1",
			OwnerID:     "u1",
			Name:        "coffee-shop",
			Description: "beans",
			Content:     json.RawMessage(`{"colors":{"primary":"#000000"}}`),
			CreatedAt:   base,
			UpdatedAt:   base,
		}
	}

	t.Run("CreateAndGetProject", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		if err := store.CreateProject(ctx, sampleProject()); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
		got, err := store.GetProjectByID(ctx, "p1")
		if err != nil {
			t.Fatalf("GetProjectByID: %v", err)
		}
		if got.OwnerID != "u1" || got.Name != "coffee-shop" {
			t.Errorf("project = %+v", got)
		}
		var content map[string]any
		if err := json.Unmarshal(got.Content, &content); err != nil {
			t.Fatalf("content is not json: %v (%s)", err, got.Content)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
		}
	})

	t.Run("CreateDuplicateProject", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		if err := store.CreateProject(ctx, sampleProject()); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
		err := store.CreateProject(ctx, sampleProject())
		if !errors.Is(err, repository.ErrAlreadyExists) {
			t.Fatalf("duplicate CreateProject error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetMissingProject", func(t *testing.T) {
		store := factory(t)
		_, err := store.GetProjectByID(context.Background(), "nope")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ProjectWithoutContent", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		p := sampleProject()
		p.Content = nil
		if err := store.CreateProject(ctx, p); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
		got, err := store.GetProjectByID(ctx, "p1")
		if err != nil {
			t.Fatalf("GetProjectByID: %v", err)
		}
		if len(got.Content) != 0 {
			t.Errorf("Content = %s, want empty", got.Content)
		}

		if err := store.UpdateProjectContent(ctx, "p1", []byte(`{"projectLanguage":"en"}`)); err != nil {
			t.Fatalf("UpdateProjectContent: %v", err)
		}
		got, _ = store.GetProjectByID(ctx, "p1")
		if len(got.Content) == 0 {
			t.Errorf("Content not updated")
		}
		if err := store.UpdateProjectContent(ctx, "missing", []byte(`{}`)); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("UpdateProjectContent(missing) = %v, want ErrNotFound", err)
		}
	})

	t.Run("DeploymentLifecycle", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		if err := store.CreateProject(ctx, sampleProject()); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}

		d := &domain.Deployment{
			ID:          "d1",
			ProjectID:   "p1",
			OwnerID:     "u1",
			ProjectName: "coffee-shop",
			Status:      domain.StatusProcessing,
			StartedAt:   base,
		}
		if err := store.CreateDeployment(ctx, d); err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}

		completed := base.Add(1500 * time.Millisecond)
		update := domain.DeploymentStatusUpdate{
			DeploymentID:   "d1",
			Status:         domain.StatusCompleted,
			OutputPath:     "/srv/out/coffee-shop-1714555800000",
			FileCount:      10,
			BytesWritten:   4096,
			CompletedAt:    &completed,
			DurationMillis: 1500,
		}
		if err := store.UpdateDeploymentStatus(ctx, update); err != nil {
			t.Fatalf("UpdateDeploymentStatus: %v", err)
		}

		got, err := store.GetDeploymentByID(ctx, "d1")
		if err != nil {
			t.Fatalf("GetDeploymentByID: %v", err)
		}
		if got.Status != domain.StatusCompleted {
			t.Errorf("Status = %q, want %q", got.Status, domain.StatusCompleted)
		}
		if got.FileCount != 10 || got.BytesWritten != 4096 || got.DurationMillis != 1500 {
			t.Errorf("counts = %d/%d/%d", got.FileCount, got.BytesWritten, got.DurationMillis)
		}
		if got.OutputPath != update.OutputPath {
			t.Errorf("OutputPath = %q", got.OutputPath)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
			t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
		}

		missing := domain.DeploymentStatusUpdate{DeploymentID: "nope", Status: domain.StatusFailed}
		if err := store.UpdateDeploymentStatus(ctx, missing); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("UpdateDeploymentStatus(missing) = %v, want ErrNotFound", err)
		}
		if _, err := store.GetDeploymentByID(ctx, "nope"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("GetDeploymentByID(missing) = %v, want ErrNotFound", err)
		}
	})

	t.Run("FailedDeploymentKeepsError", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		if err := store.CreateProject(ctx, sampleProject()); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
		if err := store.CreateDeployment(ctx, &domain.Deployment{ID: "d1", ProjectID: "p1", OwnerID: "u1", ProjectName: "x", Status: domain.StatusProcessing, StartedAt: base}); err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		if err := store.UpdateDeploymentStatus(ctx, domain.DeploymentStatusUpdate{DeploymentID: "d1", Status: domain.StatusFailed, Error: "copy failed"}); err != nil {
			t.Fatalf("UpdateDeploymentStatus: %v", err)
		}
		got, err := store.GetDeploymentByID(ctx, "d1")
		if err != nil {
			t.Fatalf("GetDeploymentByID: %v", err)
		}
		if got.Status != domain.StatusFailed || got.Error != "copy failed" {
			t.Errorf("deployment = %+v", got)
		}
		if got.CompletedAt != nil {
			t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
		}
	})

	t.Run("ListDeploymentsNewestFirst", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		if err := store.CreateProject(ctx, sampleProject()); err != nil {
			t.Fatalf("CreateProject: %v", err)
		}
		for i, id := range []string{"d1", "d2", "d3"} {
			d := &domain.Deployment{
				ID: id, ProjectID: "p1", OwnerID: "u1", ProjectName: "x",
				Status: domain.StatusCompleted, StartedAt: base.Add(time.Duration(i) * time.Minute),
			}
			if err := store.CreateDeployment(ctx, d); err != nil {
				t.Fatalf("CreateDeployment(%s): %v", id, err)
			}
		}

		got, err := store.ListDeploymentsByProject(ctx, "p1", 2)
		if err != nil {
			t.Fatalf("ListDeploymentsByProject: %v", err)
		}
		if len(got) != 2 || got[0].ID != "d3" || got[1].ID != "d2" {
			t.Fatalf("deployments = %+v, want d3,d2", got)
		}

		empty, err := store.ListDeploymentsByProject(ctx, "other", 0)
		if err != nil {
			t.Fatalf("ListDeploymentsByProject(other): %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("len = %d, want 0", len(empty))
		}
	})

	t.Run("Ping", func(t *testing.T) {
		store := factory(t)
		if err := store.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
