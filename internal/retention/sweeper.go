// Package retention deletes deploy output directories older than the retention window.
package retention

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultInterval is how often the sweeper runs when no interval is configured.
	DefaultInterval = 6 * time.Hour
	// DefaultWindow is the retention window used when none is configured.
	DefaultWindow = 14 * 24 * time.Hour
)

// Stamps are Unix milliseconds, at least 13 digits. Owner folders contain no dash and
// never match.
var stampedName = regexp.MustCompile(`^.+-(\d{13,})$`)

// Report summarises one sweep.
type Report struct {
	Removed    int
	FreedBytes int64
	Errors     int
}

// Sweeper periodically removes expired output directories beneath root.
type Sweeper struct {
	root     string
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger

	runs    prometheus.Counter
	removed prometheus.Counter
	freed   prometheus.Counter

	now       func() time.Time
	removeAll func(string) error
}

// Option customises a Sweeper.
type Option func(*Sweeper)

// WithRegisterer exports sweep counters under namespace.
func WithRegisterer(reg prometheus.Registerer, namespace string) Option {
	return func(s *Sweeper) {
		if reg == nil {
			return
		}
		s.runs = registerCounter(reg, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retention", Name: "sweeps_total",
			Help: "Number of retention sweeps executed",
		})
		s.removed = registerCounter(reg, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retention", Name: "directories_removed_total",
			Help: "Number of expired output directories removed",
		})
		s.freed = registerCounter(reg, prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retention", Name: "bytes_freed_total",
			Help: "Bytes reclaimed by retention sweeps",
		})
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a sweeper. It returns nil when root is empty.
func New(root string, interval, window time.Duration, logger *slog.Logger, opts ...Option) *Sweeper {
	if root == "" {
		return nil
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		root:      root,
		interval:  interval,
		window:    window,
		logger:    logger.With("component", "retention"),
		now:       time.Now,
		removeAll: os.RemoveAll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started", "root", s.root, "interval", s.interval, "window", s.window)
	s.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.runIteration(ctx)
		}
	}
}

func (s *Sweeper) runIteration(ctx context.Context) {
	report := s.Sweep(ctx)
	if report.Removed > 0 || report.Errors > 0 {
		s.logger.Info("retention sweep finished", "removed", report.Removed, "freed_bytes", report.FreedBytes, "errors", report.Errors)
	}
}

// Sweep walks root once and removes every stamped directory older than the window.
// Failures are logged and counted; they never stop the walk of other subtrees.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	var report Report
	if s == nil {
		return report
	}
	s.sweepDir(ctx, s.root, s.now(), &report)
	if s.runs != nil {
		s.runs.Inc()
		s.removed.Add(float64(report.Removed))
		s.freed.Add(float64(report.FreedBytes))
	}
	return report
}

func (s *Sweeper) sweepDir(ctx context.Context, dir string, now time.Time, report *Report) {
	if ctx.Err() != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read directory failed", "path", dir, "error", err)
			report.Errors++
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		stamp, ok := StampOf(entry.Name())
		if !ok {
			s.sweepDir(ctx, path, now, report)
			continue
		}
		if !Expired(stamp, now, s.window) {
			continue
		}
		size := dirSize(path)
		if err := s.removeAll(path); err != nil {
			s.logger.Warn("remove expired directory failed", "path", path, "error", err)
			report.Errors++
			continue
		}
		report.Removed++
		report.FreedBytes += size
		s.logger.Debug("removed expired directory", "path", path, "bytes", size, "age", now.Sub(stamp))
	}
}

// StampOf extracts the creation time embedded in a "<name>-<unixMillis>" directory name.
func StampOf(name string) (time.Time, bool) {
	match := stampedName.FindStringSubmatch(name)
	if match == nil {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

// Expired reports whether a directory stamped at stamp is strictly older than window.
func Expired(stamp, now time.Time, window time.Duration) bool {
	return now.Sub(stamp) > window
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	counter := prometheus.NewCounter(opts)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return counter
}
