// Package admission bounds the number of concurrent deploys and rejects a
// second deploy for a target that already has one in flight.
package admission

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMaxInFlight is used when the configured bound is not positive.
const DefaultMaxInFlight = 50

var (
	// ErrBusy is returned when the in-flight bound has been reached.
	ErrBusy = errors.New("admission: too many deploys in progress")
	// ErrConflict is returned when the target already has a deploy in flight.
	ErrConflict = errors.New("admission: deploy already in progress for target")
)

// Release frees an accepted slot. Calling it more than once has no further effect.
type Release func()

// Gate tracks in-flight tasks by target key. H is the handle stored for each task.
type Gate[H any] struct {
	mu       sync.Mutex
	limit    int
	tasks    map[string]H
	inFlight int
	drained  chan struct{}

	inFlightGauge prometheus.Gauge
	rejections    *prometheus.CounterVec
}

// Option customises a Gate.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	namespace  string
}

// WithRegisterer exports the in-flight gauge and rejection counter.
func WithRegisterer(reg prometheus.Registerer, namespace string) Option {
	return func(o *options) {
		o.registerer = reg
		o.namespace = namespace
	}
}

// New returns a gate admitting at most limit concurrent tasks.
func New[H any](limit int, opts ...Option) *Gate[H] {
	if limit <= 0 {
		limit = DefaultMaxInFlight
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	g := &Gate[H]{
		limit: limit,
		tasks: make(map[string]H),
	}
	if o.registerer != nil {
		g.initMetrics(o.registerer, o.namespace)
	}
	return g
}

// TryAccept registers handle under key. It returns ErrBusy or ErrConflict without
// mutating any state when the task cannot be admitted. The returned Release must run
// on every exit path of the task.
func (g *Gate[H]) TryAccept(key string, handle H) (Release, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight >= g.limit {
		g.reject("busy")
		return nil, ErrBusy
	}
	if _, exists := g.tasks[key]; exists {
		g.reject("conflict")
		return nil, ErrConflict
	}
	g.tasks[key] = handle
	if g.inFlight == 0 {
		g.drained = make(chan struct{})
	}
	g.inFlight++
	g.observe()

	var once sync.Once
	return func() {
		once.Do(func() { g.release(key) })
	}, nil
}

func (g *Gate[H]) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tasks, key)
	g.inFlight--
	if g.inFlight == 0 && g.drained != nil {
		close(g.drained)
		g.drained = nil
	}
	g.observe()
}

// Lookup returns the handle of the task in flight for key.
func (g *Gate[H]) Lookup(key string) (H, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	handle, ok := g.tasks[key]
	return handle, ok
}

// InFlight reports the number of admitted tasks that have not been released.
func (g *Gate[H]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Limit returns the configured bound.
func (g *Gate[H]) Limit() int {
	return g.limit
}

// Drain blocks until every admitted task has been released or ctx is done.
func (g *Gate[H]) Drain(ctx context.Context) error {
	g.mu.Lock()
	if g.inFlight == 0 {
		g.mu.Unlock()
		return nil
	}
	drained := g.drained
	g.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate[H]) initMetrics(reg prometheus.Registerer, namespace string) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "deploys_in_flight",
		Help:      "Number of deploys currently admitted",
	})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "rejections_total",
		Help:      "Number of deploy requests rejected by the admission gate",
	}, []string{"reason"})

	if err := reg.Register(gauge); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Gauge); ok {
				gauge = existing
			}
		}
	}
	if err := reg.Register(rejections); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				rejections = existing
			}
		}
	}
	g.inFlightGauge = gauge
	g.rejections = rejections
}

func (g *Gate[H]) observe() {
	if g.inFlightGauge != nil {
		g.inFlightGauge.Set(float64(g.inFlight))
	}
}

func (g *Gate[H]) reject(reason string) {
	if g.rejections != nil {
		g.rejections.WithLabelValues(reason).Inc()
	}
}
