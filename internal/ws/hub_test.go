package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/sitedeploy/internal/domain"
	"github.com/splax/sitedeploy/internal/service/deploy"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
	fail     bool
}

func (f *fakeSubscriber) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func event(owner, project string, percent int) deploy.Event {
	return deploy.Event{
		DeploymentID: "d1",
		ProjectID:    project,
		OwnerID:      owner,
		Progress:     domain.DeployProgress{Status: domain.StatusProcessing, Percent: percent},
	}
}

func TestHubDeliversOnlyToOwner(t *testing.T) {
	hub, _ := startHub(t)
	owner := &fakeSubscriber{}
	stranger := &fakeSubscriber{}
	hub.Register("u1", "p1", owner)
	hub.Register("u2", "p1", stranger)

	hub.Publish(event("u1", "p1", 30))

	require.Eventually(t, func() bool { return owner.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, stranger.count())

	var got map[string]any
	require.NoError(t, json.Unmarshal(owner.payloads[0], &got))
	assert.Equal(t, "p1", got["projectId"])
	assert.NotContains(t, got, "OwnerID")
	progress := got["progress"].(map[string]any)
	assert.Equal(t, float64(30), progress["progress"])
}

func TestHubDropsFailingSubscribers(t *testing.T) {
	hub, _ := startHub(t)
	broken := &fakeSubscriber{fail: true}
	hub.Register("u1", "p1", broken)
	hub.Publish(event("u1", "p1", 10))
	require.Eventually(t, broken.isClosed, time.Second, 5*time.Millisecond)

	healthy := &fakeSubscriber{}
	hub.Register("u1", "p1", healthy)
	hub.Unregister("u1", "p1", healthy)
	hub.Publish(event("u1", "p1", 20))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, healthy.count())
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	hub, cancel := startHub(t)
	sub := &fakeSubscriber{}
	hub.Register("u1", "p1", sub)
	cancel()
	require.Eventually(t, sub.isClosed, time.Second, 5*time.Millisecond)

	late := &fakeSubscriber{}
	hub.Register("u1", "p1", late)
	assert.True(t, late.isClosed())
	hub.Publish(event("u1", "p1", 50))
}

func TestSSEClientFormatsEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, client.Send([]byte(`{"a":1}`)))
	require.NoError(t, client.Heartbeat())
	assert.Equal(t, "event: progress\ndata: {\"a\":1}\n\n: ping\n\n", rec.Body.String())

	client.Close()
	assert.ErrorIs(t, client.Send([]byte("x")), io.EOF)
	select {
	case <-client.Done():
	default:
		t.Fatal("Done not closed")
	}
}
