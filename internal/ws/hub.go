// Package ws fans deploy progress out to streaming clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/splax/sitedeploy/internal/domain"
	"github.com/splax/sitedeploy/internal/service/deploy"
)

const broadcastBuffer = 256

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages progress subscriptions by target key (owner and project).
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	log       *slog.Logger
}

type message struct {
	key     string
	payload []byte
}

type subscription struct {
	key    string
	client Subscriber
}

// NewHub creates a Hub. It does nothing until Run is called.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastBuffer),
		done:      make(chan struct{}),
		log:       logger.With("component", "ws"),
	}
}

// Run dispatches subscriptions and events until ctx is cancelled, then closes every
// connected client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for key, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, key)
			}
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.key]; !ok {
				h.clients[sub.key] = make(map[Subscriber]struct{})
			}
			h.clients[sub.key][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.key]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.key)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.key]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.key)
				}
			}
		}
	}
}

// Register subscribes client to the deploys of projectID owned by ownerID.
func (h *Hub) Register(ownerID, projectID string, client Subscriber) {
	select {
	case h.register <- subscription{key: domain.TargetKey(ownerID, projectID), client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(ownerID, projectID string, client Subscriber) {
	select {
	case h.unreg <- subscription{key: domain.TargetKey(ownerID, projectID), client: client}:
	case <-h.done:
	}
}

// Publish forwards a progress event to the owner's subscribers. It never blocks the
// deploy pipeline: events are dropped when the hub is stopped or saturated.
func (h *Hub) Publish(e deploy.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error("encode progress event", "deployment_id", e.DeploymentID, "error", err)
		return
	}
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- message{key: domain.TargetKey(e.OwnerID, e.ProjectID), payload: payload}:
	default:
		h.log.Warn("progress event dropped", "deployment_id", e.DeploymentID, "project_id", e.ProjectID)
	}
}
