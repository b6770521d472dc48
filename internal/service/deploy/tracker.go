package deploy

import (
	"sync"
	"time"

	"github.com/splax/sitedeploy/internal/domain"
)

// Percent reached at each pipeline stage. Item writes move linearly between
// percentDirectories and percentWritten.
const (
	percentManifest    = 10
	percentDirectories = 30
	percentWritten     = 90
	percentDone        = 100
)

// Event is a progress snapshot of one deploy.
type Event struct {
	DeploymentID string                `json:"deploymentId"`
	ProjectID    string                `json:"projectId"`
	OwnerID      string                `json:"-"`
	Progress     domain.DeployProgress `json:"progress"`
}

// Publisher receives an Event every time a deploy's progress changes.
type Publisher interface {
	Publish(Event)
}

// Tracker is the live progress of one admitted deploy. Percent never decreases and
// only reaches 100 on success.
type Tracker struct {
	mu        sync.Mutex
	id        string
	projectID string
	ownerID   string
	state     domain.DeployProgress
	publisher Publisher
}

func newTracker(id, projectID, ownerID string, started time.Time, publisher Publisher) *Tracker {
	return &Tracker{
		id:        id,
		projectID: projectID,
		ownerID:   ownerID,
		publisher: publisher,
		state: domain.DeployProgress{
			Status:    domain.StatusQueued,
			StartedAt: started,
		},
	}
}

// DeploymentID identifies the deploy being tracked.
func (t *Tracker) DeploymentID() string {
	return t.id
}

// Snapshot returns a copy of the current progress.
func (t *Tracker) Snapshot() domain.DeployProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() domain.DeployProgress {
	s := t.state
	if s.FinishedAt != nil {
		finished := *s.FinishedAt
		s.FinishedAt = &finished
	}
	return s
}

func (t *Tracker) update(fn func(*domain.DeployProgress)) {
	t.mu.Lock()
	previous := t.state.Percent
	fn(&t.state)
	if t.state.Percent < previous {
		t.state.Percent = previous
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if t.publisher != nil {
		t.publisher.Publish(Event{DeploymentID: t.id, ProjectID: t.projectID, OwnerID: t.ownerID, Progress: snap})
	}
}

func (t *Tracker) start() {
	t.update(func(p *domain.DeployProgress) {
		p.Status = domain.StatusProcessing
	})
}

func (t *Tracker) manifestBuilt(total int) {
	t.update(func(p *domain.DeployProgress) {
		p.TotalItems = total
		p.Percent = percentManifest
	})
}

// itemsWritten is the materializer's progress callback.
func (t *Tracker) itemsWritten(processed, total int) {
	t.update(func(p *domain.DeployProgress) {
		p.ProcessedItems = processed
		p.TotalItems = total
		p.Percent = writePercent(processed, total)
	})
}

func (t *Tracker) complete(at time.Time) {
	t.update(func(p *domain.DeployProgress) {
		p.Status = domain.StatusCompleted
		p.Percent = percentDone
		p.ProcessedItems = p.TotalItems
		p.FinishedAt = &at
	})
}

func (t *Tracker) fail(err error, at time.Time) {
	t.update(func(p *domain.DeployProgress) {
		p.Status = domain.StatusFailed
		p.Error = err.Error()
		p.FinishedAt = &at
	})
}

func writePercent(processed, total int) int {
	if total <= 0 {
		return percentDirectories
	}
	processed = min(max(processed, 0), total)
	return percentDirectories + processed*(percentWritten-percentDirectories)/total
}
