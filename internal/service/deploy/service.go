// Package deploy runs the deploy pipeline: admission, project load, manifest,
// materialization, metadata and history.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/sitedeploy/internal/admission"
	"github.com/splax/sitedeploy/internal/content"
	"github.com/splax/sitedeploy/internal/domain"
	"github.com/splax/sitedeploy/internal/manifest"
	"github.com/splax/sitedeploy/internal/materialize"
	"github.com/splax/sitedeploy/internal/repository"
	"github.com/splax/sitedeploy/pkg/config"
)

// MetadataFile is written into every completed output directory.
const MetadataFile = "deploy-metadata.json"

// OwnersDir holds per-owner output folders beneath the output root.
const OwnersDir = "owners"

const (
	metadataVersion = "1.0.0"
	maxListLimit    = 100
)

// Result describes a completed deploy.
type Result struct {
	Success          bool    `json:"success"`
	DeploymentID     string  `json:"deploymentId"`
	ProjectID        string  `json:"projectId"`
	ProjectName      string  `json:"projectName"`
	OutputPath       string  `json:"outputPath"`
	OwnerFolderPath  *string `json:"userFolderPath"`
	FileCount        int     `json:"fileCount"`
	BytesWritten     int64   `json:"bytesWritten"`
	ScriptPath       *string `json:"scriptPath"`
	DeployTimeMillis int64   `json:"deployTimeMillis"`
}

// Option customises a Service.
type Option func(*Service)

// WithPublisher streams progress events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service orchestrates deploys.
type Service struct {
	gate         *admission.Gate[*Tracker]
	projects     repository.ProjectRepository
	deployments  repository.DeploymentRepository
	builder      *manifest.Builder
	materializer *materialize.Materializer
	publisher    Publisher
	logger       *slog.Logger
	cfg          config.APIConfig
	now          func() time.Time
}

// New returns a deploy service admitting work through gate.
func New(gate *admission.Gate[*Tracker], projects repository.ProjectRepository, deployments repository.DeploymentRepository, builder *manifest.Builder, materializer *materialize.Materializer, logger *slog.Logger, cfg config.APIConfig, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		gate:         gate,
		projects:     projects,
		deployments:  deployments,
		builder:      builder,
		materializer: materializer,
		logger:       logger.With("component", "deploy"),
		cfg:          cfg,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deploy materializes the caller's project into a fresh output directory. It returns
// ErrUnauthenticated, a wrapped ErrValidation, ErrBusy, ErrConflict or ErrNotFound
// before any filesystem work, and a *ProcessingError when the pipeline fails after
// admission.
func (s *Service) Deploy(ctx context.Context, userID string, in Input) (*Result, error) {
	start := s.now()
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	projectID, err := in.validate()
	if err != nil {
		return nil, err
	}

	deploymentID := uuid.NewString()
	key := domain.TargetKey(userID, projectID)
	tracker := newTracker(deploymentID, projectID, userID, start.UTC(), s.publisher)
	release, err := s.gate.TryAccept(key, tracker)
	if err != nil {
		s.logger.Warn("deploy rejected", "target_key", key, "error", err)
		return nil, err
	}
	defer release()

	project, err := s.ownedProject(ctx, userID, projectID)
	if err != nil {
		tracker.fail(err, s.now().UTC())
		return nil, err
	}
	theme, err := domain.DecodeTheme(project.Content)
	if err != nil {
		err = invalid("project %s has no usable content: %v", projectID, err)
		tracker.fail(err, s.now().UTC())
		return nil, err
	}

	stamp := start.UnixMilli()
	req := domain.DeployRequest{
		ID:          deploymentID,
		OwnerID:     userID,
		ProjectID:   projectID,
		Options:     in.options(stamp, s.cfg.DefaultDomainSuffix),
		Theme:       theme,
		RequestedAt: start.UTC(),
	}
	return s.run(ctx, req, tracker)
}

func (s *Service) run(ctx context.Context, req domain.DeployRequest, tracker *Tracker) (*Result, error) {
	start := req.RequestedAt
	opts := req.Options
	slug := Slug(opts.ProjectName)
	outDir, ownerFolder := s.outputDir(req.OwnerID, slug, start.UnixMilli(), opts.CreateIsolatedFolder)
	log := s.logger.With("deployment_id", req.ID, "project_id", req.ProjectID, "target_key", req.TargetKey())

	s.recordStart(ctx, &domain.Deployment{
		ID:          req.ID,
		ProjectID:   req.ProjectID,
		OwnerID:     req.OwnerID,
		ProjectName: opts.ProjectName,
		Status:      domain.StatusProcessing,
		OutputPath:  outDir,
		StartedAt:   start,
	})
	tracker.start()
	log.Info("deploy started", "output_path", outDir)

	items := s.builder.Build(opts, req.Theme)
	tracker.manifestBuilt(len(items))

	if err := claimDir(outDir); err != nil {
		return nil, s.failed(ctx, req, tracker, outDir, materialize.Result{}, err)
	}
	renderer := content.NewRenderer(content.Site{
		ProjectName: opts.ProjectName,
		SiteID:      filepath.Base(outDir),
		Description: opts.Description,
		Domain:      opts.DomainName,
		Theme:       req.Theme,
		GeneratedAt: start,
	})
	res, err := s.materializer.Materialize(ctx, items, outDir, renderer, tracker.itemsWritten)
	if err != nil {
		return nil, s.failed(ctx, req, tracker, outDir, res, err)
	}

	var scriptPath *string
	if opts.GenerateAuxiliaryScript {
		p := filepath.Join(outDir, opts.ServerKind.ScriptName())
		scriptPath = &p
	}
	elapsed := s.now().Sub(start)
	meta := domain.DeployMetadata{
		DeploymentID:    req.ID,
		ProjectID:       req.ProjectID,
		OwnerID:         req.OwnerID,
		ProjectName:     opts.ProjectName,
		Description:     opts.Description,
		DeployedAt:      start,
		FileCount:       res.ItemCount,
		BytesWritten:    res.BytesWritten,
		OwnerFolderPath: ownerFolder,
		ScriptPath:      scriptPath,
		IncludeAssets:   opts.IncludeAssets,
		ElapsedMillis:   elapsed.Milliseconds(),
		Version:         metadataVersion,
	}
	if opts.GenerateAuxiliaryScript {
		kind, host := string(opts.ServerKind), opts.DomainName
		meta.ServerKind = &kind
		meta.Domain = &host
	}
	if err := writeMetadata(outDir, meta); err != nil {
		return nil, s.failed(ctx, req, tracker, outDir, res, err)
	}

	finished := s.now().UTC()
	elapsed = finished.Sub(start)
	tracker.complete(finished)
	s.recordFinish(ctx, domain.DeploymentStatusUpdate{
		DeploymentID:   req.ID,
		Status:         domain.StatusCompleted,
		OutputPath:     outDir,
		FileCount:      res.ItemCount,
		BytesWritten:   res.BytesWritten,
		CompletedAt:    &finished,
		DurationMillis: elapsed.Milliseconds(),
	})
	log.Info("deploy completed", "files", res.ItemCount, "bytes", res.BytesWritten, "elapsed_ms", elapsed.Milliseconds())

	return &Result{
		Success:          true,
		DeploymentID:     req.ID,
		ProjectID:        req.ProjectID,
		ProjectName:      opts.ProjectName,
		OutputPath:       outDir,
		OwnerFolderPath:  ownerFolder,
		FileCount:        res.ItemCount,
		BytesWritten:     res.BytesWritten,
		ScriptPath:       scriptPath,
		DeployTimeMillis: elapsed.Milliseconds(),
	}, nil
}

func (s *Service) failed(ctx context.Context, req domain.DeployRequest, tracker *Tracker, outDir string, res materialize.Result, cause error) error {
	finished := s.now().UTC()
	elapsed := finished.Sub(req.RequestedAt)
	tracker.fail(cause, finished)
	s.recordFinish(ctx, domain.DeploymentStatusUpdate{
		DeploymentID:   req.ID,
		Status:         domain.StatusFailed,
		OutputPath:     outDir,
		FileCount:      res.ItemCount,
		BytesWritten:   res.BytesWritten,
		Error:          cause.Error(),
		DurationMillis: elapsed.Milliseconds(),
	})
	s.logger.Error("deploy failed", "deployment_id", req.ID, "project_id", req.ProjectID, "elapsed_ms", elapsed.Milliseconds(), "error", cause)
	return &ProcessingError{Err: cause, Elapsed: elapsed}
}

// claimDir creates the deploy's own output directory. An existing leaf means another
// deploy got the same slug and millisecond, so it fails instead of sharing it.
func claimDir(dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create output parent: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("claim output directory: %w", err)
	}
	return nil
}

// Progress returns the live progress of the caller's in-flight deploy of projectID.
func (s *Service) Progress(userID, projectID string) (domain.DeployProgress, bool) {
	tracker, ok := s.gate.Lookup(domain.TargetKey(userID, projectID))
	if !ok || tracker == nil {
		return domain.DeployProgress{}, false
	}
	return tracker.Snapshot(), true
}

// ListByProject returns recent deployments of a project owned by the caller.
func (s *Service) ListByProject(ctx context.Context, userID, projectID string, limit int) ([]domain.Deployment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthenticated
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, invalid("projectId is required")
	}
	if _, err := s.ownedProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = repository.DefaultListLimit
	}
	limit = min(limit, maxListLimit)
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}

// InFlight reports how many deploys are currently admitted.
func (s *Service) InFlight() int {
	return s.gate.InFlight()
}

func (s *Service) ownedProject(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	if project.OwnerID != userID {
		return nil, ErrNotFound
	}
	return project, nil
}

// outputDir returns the deploy's target directory and, for isolated deploys, its path
// relative to the output root.
func (s *Service) outputDir(ownerID, slug string, stamp int64, isolated bool) (string, *string) {
	name := slug + "-" + strconv.FormatInt(stamp, 10)
	if !isolated {
		return filepath.Join(s.cfg.OutputRoot, name), nil
	}
	rel := OwnersDir + "/" + pathSegment(ownerID) + "/" + name + "/"
	return filepath.Join(s.cfg.OutputRoot, OwnersDir, pathSegment(ownerID), name), &rel
}

func (s *Service) recordStart(ctx context.Context, d *domain.Deployment) {
	if s.deployments == nil {
		return
	}
	if err := s.deployments.CreateDeployment(context.WithoutCancel(ctx), d); err != nil {
		s.logger.Warn("record deployment failed", "deployment_id", d.ID, "error", err)
	}
}

func (s *Service) recordFinish(ctx context.Context, update domain.DeploymentStatusUpdate) {
	if s.deployments == nil {
		return
	}
	if err := s.deployments.UpdateDeploymentStatus(context.WithoutCancel(ctx), update); err != nil {
		s.logger.Warn("update deployment failed", "deployment_id", update.DeploymentID, "status", update.Status, "error", err)
	}
}

func writeMetadata(dir string, meta domain.DeployMetadata) error {
	body, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), body, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
