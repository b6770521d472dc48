package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/sitedeploy/internal/admission"
	"github.com/splax/sitedeploy/internal/content"
	"github.com/splax/sitedeploy/internal/domain"
	"github.com/splax/sitedeploy/internal/manifest"
	"github.com/splax/sitedeploy/internal/materialize"
	"github.com/splax/sitedeploy/internal/repository"
	"github.com/splax/sitedeploy/internal/repository/sqlite"
	"github.com/splax/sitedeploy/pkg/config"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) percents() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Progress.Percent)
	}
	return out
}

type fixture struct {
	svc        *Service
	store      repository.Store
	gate       *admission.Gate[*Tracker]
	outputRoot string
	uploads    string
	events     *recorder
}

func newFixture(t *testing.T, limit int, opts ...Option) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := sqlite.New(sqlite.OpenTestDB(t))
	gate := admission.New[*Tracker](limit)
	uploads := t.TempDir()
	cfg := config.APIConfig{OutputRoot: t.TempDir(), DefaultDomainSuffix: "example.com"}
	events := &recorder{}

	svc := New(gate, store, store,
		manifest.New(uploads, log),
		materialize.New(content.NewHTTPFetcher(5*time.Second, 1<<20, nil), log),
		log, cfg, append([]Option{WithPublisher(events)}, opts...)...)
	return &fixture{svc: svc, store: store, gate: gate, outputRoot: cfg.OutputRoot, uploads: uploads, events: events}
}

func (f *fixture) addProject(t *testing.T, id, owner string, theme domain.Theme) {
	t.Helper()
	raw, err := json.Marshal(theme)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateProject(context.Background(), &domain.Project{
		ID: id, OwnerID: owner, Name: id, Content: raw, CreatedAt: now, UpdatedAt: now,
	}))
}

func heroTheme(url string) domain.Theme {
	var theme domain.Theme
	theme.Content.Header.Title = "Coffee"
	theme.Content.Hero.BackgroundImage = url
	return theme
}

// blockingServer serves image bytes once release is closed and signals every request on hits.
func blockingServer(t *testing.T) (srv *httptest.Server, hits chan struct{}, release chan struct{}) {
	t.Helper()
	hits = make(chan struct{}, 16)
	release = make(chan struct{})
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("jpeg"))
	}))
	t.Cleanup(srv.Close)
	return srv, hits, release
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func TestDeployWritesSiteMetadataAndHistory(t *testing.T) {
	f := newFixture(t, 2)
	f.addProject(t, "p1", "u1", domain.Theme{})

	res, err := f.svc.Deploy(context.Background(), "u1", Input{
		ProjectID:               "p1",
		ProjectName:             "Coffee Shop",
		IncludeAssets:           true,
		CreateIsolatedFolder:    true,
		GenerateAuxiliaryScript: true,
		ServerKind:              "Apache",
		DomainName:              "https://www.coffee.vn/",
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, manifest.BaseCount+manifest.PlaceholderCount+1, res.FileCount)
	require.NotNil(t, res.OwnerFolderPath)
	assert.Regexp(t, `^owners/u_u1/coffee-shop-\d{13}/$`, *res.OwnerFolderPath)
	assert.Equal(t, filepath.Join(f.outputRoot, filepath.FromSlash(*res.OwnerFolderPath)), res.OutputPath)
	require.NotNil(t, res.ScriptPath)
	assert.Equal(t, filepath.Join(res.OutputPath, "deploy-apache.sh"), *res.ScriptPath)

	for _, rel := range []string{"index.html", "assets/css/styles.css", "assets/images/logo.png", "deploy-apache.sh", MetadataFile} {
		_, err := os.Stat(filepath.Join(res.OutputPath, filepath.FromSlash(rel)))
		assert.NoError(t, err, rel)
	}

	raw, err := os.ReadFile(filepath.Join(res.OutputPath, MetadataFile))
	require.NoError(t, err)
	var meta domain.DeployMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, res.DeploymentID, meta.DeploymentID)
	assert.Equal(t, res.FileCount, meta.FileCount)
	require.NotNil(t, meta.Domain)
	assert.Equal(t, "coffee.vn", *meta.Domain)
	require.NotNil(t, meta.ServerKind)
	assert.Equal(t, "apache", *meta.ServerKind)

	history, err := f.svc.ListByProject(context.Background(), "u1", "p1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusCompleted, history[0].Status)
	assert.Equal(t, res.FileCount, history[0].FileCount)
	assert.Equal(t, 0, f.gate.InFlight())
}

func TestDeploySameSlugSameMillisecondFails(t *testing.T) {
	frozen := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	f := newFixture(t, 2, WithClock(func() time.Time { return frozen }))
	f.addProject(t, "p1", "u1", domain.Theme{})
	f.addProject(t, "p2", "u2", domain.Theme{})

	first, err := f.svc.Deploy(context.Background(), "u1", Input{ProjectID: "p1", ProjectName: "Shop"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.outputRoot, "shop-"+strconv.FormatInt(frozen.UnixMilli(), 10)), first.OutputPath)

	_, err = f.svc.Deploy(context.Background(), "u2", Input{ProjectID: "p2", ProjectName: "shop"})
	require.Error(t, err)
	var perr *ProcessingError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, fs.ErrExist)

	assert.Len(t, entries(t, f.outputRoot), 1)
	raw, err := os.ReadFile(filepath.Join(first.OutputPath, MetadataFile))
	require.NoError(t, err)
	var meta domain.DeployMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, first.DeploymentID, meta.DeploymentID)

	history, err := f.svc.ListByProject(context.Background(), "u2", "p2", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusFailed, history[0].Status)
	assert.Equal(t, 0, f.gate.InFlight())
}

func TestDeployValidationAndOwnership(t *testing.T) {
	f := newFixture(t, 2)
	f.addProject(t, "p1", "u1", domain.Theme{})
	now := time.Now().UTC()
	require.NoError(t, f.store.CreateProject(context.Background(), &domain.Project{ID: "empty", OwnerID: "u1", Name: "empty", CreatedAt: now, UpdatedAt: now}))

	ctx := context.Background()
	_, err := f.svc.Deploy(ctx, "", Input{ProjectID: "p1", ProjectName: "x"})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.Deploy(ctx, "u1", Input{ProjectName: "x"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Deploy(ctx, "u1", Input{ProjectID: "p1", ProjectName: "  "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Deploy(ctx, "u2", Input{ProjectID: "p1", ProjectName: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Deploy(ctx, "u1", Input{ProjectID: "missing", ProjectName: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Deploy(ctx, "u1", Input{ProjectID: "empty", ProjectName: "x"})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, entries(t, f.outputRoot))
	assert.Equal(t, 0, f.gate.InFlight())
}

func TestDeployAdmissionBusyAndConflict(t *testing.T) {
	f := newFixture(t, 2)
	srv, hits, release := blockingServer(t)
	f.addProject(t, "p1", "u1", heroTheme(srv.URL+"/hero.jpg"))
	f.addProject(t, "p2", "u1", heroTheme(srv.URL+"/hero.jpg"))
	f.addProject(t, "p3", "u1", domain.Theme{})

	hold := func(projectID, name string) chan error {
		done := make(chan error, 1)
		go func() {
			_, err := f.svc.Deploy(context.Background(), "u1", Input{ProjectID: projectID, ProjectName: name, IncludeAssets: true})
			done <- err
		}()
		select {
		case <-hits:
		case <-time.After(5 * time.Second):
			t.Fatalf("deploy of %s never reached the download", projectID)
		}
		return done
	}
	wait := func(done chan error) {
		t.Helper()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("held deploy did not finish")
		}
	}

	first := hold("p1", "first")

	progress, ok := f.svc.Progress("u1", "p1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusProcessing, progress.Status)
	assert.GreaterOrEqual(t, progress.Percent, percentDirectories)
	assert.Less(t, progress.Percent, percentDone)

	before := entries(t, f.outputRoot)
	_, err := f.svc.Deploy(context.Background(), "u1", Input{ProjectID: "p1", ProjectName: "again"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, before, entries(t, f.outputRoot))

	second := hold("p2", "second")
	assert.Equal(t, 2, f.gate.InFlight())

	before = entries(t, f.outputRoot)
	_, err = f.svc.Deploy(context.Background(), "u1", Input{ProjectID: "p3", ProjectName: "third"})
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.svc.Deploy(context.Background(), "u1", Input{ProjectID: "p1", ProjectName: "again"})
	assert.ErrorIs(t, err, ErrBusy, "the bound is checked before the target")
	assert.Equal(t, before, entries(t, f.outputRoot))

	close(release)
	wait(first)
	wait(second)

	_, ok = f.svc.Progress("u1", "p1")
	assert.False(t, ok)
	assert.Equal(t, 0, f.gate.InFlight())

	res, err := f.svc.Deploy(context.Background(), "u1", Input{ProjectID: "p1", ProjectName: "first", IncludeAssets: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestDeployProgressIsMonotonic(t *testing.T) {
	f := newFixture(t, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()
	theme := domain.Theme{}
	for i := 0; i < 20; i++ {
		theme.Content.Products.Items = append(theme.Content.Products.Items, domain.ProductItem{Image: srv.URL + "/p.jpg"})
	}
	f.addProject(t, "p1", "u1", theme)

	_, err := f.svc.Deploy(context.Background(), "u1", Input{ProjectID: "p1", ProjectName: "site", IncludeAssets: true})
	require.NoError(t, err)

	percents := f.events.percents()
	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1], "percents %v", percents)
	}
	assert.Equal(t, percentDone, percents[len(percents)-1])
	for _, p := range percents[:len(percents)-1] {
		assert.Less(t, p, percentDone)
	}
}

func TestDeployDegradesOnDownloadFailure(t *testing.T) {
	f := newFixture(t, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()
	f.addProject(t, "p1", "u1", heroTheme(srv.URL+"/hero.jpg"))

	res, err := f.svc.Deploy(context.Background(), "u1", Input{ProjectID: "p1", ProjectName: "site", IncludeAssets: true})
	require.NoError(t, err)

	body, err := os.ReadFile(filepath.Join(res.OutputPath, "assets", "images", "hero-bg.jpg"))
	require.NoError(t, err)
	assert.Equal(t, materialize.DownloadFailedPlaceholder, string(body))
}

func TestDeployCopyFailureLeavesPartialOutput(t *testing.T) {
	f := newFixture(t, 1)
	srv, hits, release := blockingServer(t)

	logo := filepath.Join(f.uploads, "logo.png")
	require.NoError(t, os.WriteFile(logo, []byte("png"), 0o644))
	theme := heroTheme(srv.URL + "/hero.jpg")
	theme.Content.Header.Logo = manifest.UploadsPrefix + "logo.png"
	f.addProject(t, "p1", "u1", theme)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.svc.Deploy(context.Background(), "u1", Input{ProjectID: "p1", ProjectName: "site", IncludeAssets: true})
		done <- outcome{res, err}
	}()
	select {
	case <-hits:
	case <-time.After(5 * time.Second):
		t.Fatal("deploy never reached the download")
	}
	// The logo is copied in the chunk after the download.
	require.NoError(t, os.Remove(logo))
	close(release)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deploy did not finish")
	}
	require.Error(t, out.err)
	var perr *ProcessingError
	require.True(t, errors.As(out.err, &perr))
	assert.ErrorIs(t, out.err, os.ErrNotExist)
	assert.Nil(t, out.res)

	dirs := entries(t, f.outputRoot)
	require.Len(t, dirs, 1)
	outDir := filepath.Join(f.outputRoot, dirs[0])
	_, err := os.Stat(filepath.Join(outDir, "index.html"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, MetadataFile))
	assert.True(t, os.IsNotExist(err))

	history, err := f.svc.ListByProject(context.Background(), "u1", "p1", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusFailed, history[0].Status)
	assert.NotEmpty(t, history[0].Error)
	assert.Equal(t, 0, f.gate.InFlight())
}
