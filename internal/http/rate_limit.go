package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const rateLimiterSweepInterval = 5 * time.Minute

// rateRule allows at most limit requests per fixed window.
type rateRule struct {
	limit  int
	window time.Duration
}

func (r rateRule) disabled() bool { return r.limit <= 0 }

func (r rateRule) windowOrDefault() time.Duration {
	if r.window <= 0 {
		return time.Minute
	}
	return r.window
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, rule rateRule) rateDecision
	Close()
}

type rateDecision struct {
	allowed bool
	count   int
	resetAt time.Time
}

func (d rateDecision) remaining(rule rateRule) int {
	if left := rule.limit - d.count; left > 0 {
		return left
	}
	return 0
}

// retryAfter is the whole number of seconds until the window resets, at least one.
func (d rateDecision) retryAfter(now time.Time) int {
	secs := int(d.resetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]rateDecision
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryRateLimiter returns a limiter local to this process. Replicas do not share
// counts; use NewRedisRateLimiter for that.
func NewMemoryRateLimiter() RateLimiter {
	rl := newMemoryRateLimiter(time.Now)
	go rl.sweepLoop()
	return rl
}

func newMemoryRateLimiter(now func() time.Time) *memoryRateLimiter {
	return &memoryRateLimiter{
		windows: make(map[string]rateDecision),
		now:     now,
		stop:    make(chan struct{}),
	}
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, rule rateRule) rateDecision {
	if rule.disabled() {
		return rateDecision{allowed: true}
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	current, ok := rl.windows[key]
	if !ok || !now.Before(current.resetAt) {
		current = rateDecision{resetAt: now.Add(rule.windowOrDefault())}
	}
	if current.count >= rule.limit {
		current.allowed = false
		return current
	}
	current.count++
	current.allowed = true
	rl.windows[key] = current
	return current
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.expire(rl.now())
		case <-rl.stop:
			return
		}
	}
}

func (rl *memoryRateLimiter) expire(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// withRateLimit charges each request to route plus the key keyFn derives; an empty key
// falls back to the client address.
func (r *Router) withRateLimit(route string, rule rateRule, keyFn func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if rule.disabled() || r.limiter == nil {
			next(w, req)
			return
		}
		key := keyFn(req)
		if key == "" {
			key = rateLimitKeyIP(req)
		}
		decision := r.limiter.Allow(req.Context(), route+"|"+key, rule)
		setRateHeaders(w.Header(), rule, decision)
		if !decision.allowed {
			r.recordRateLimitHit(route, rateMetricKey(key))
			w.Header().Set("Retry-After", strconv.Itoa(decision.retryAfter(time.Now())))
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next(w, req)
	}
}

func (r *Router) handlerAuthRate(route string, rule rateRule, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.withRateLimit(route, rule, rateLimitKeyUser, next))
}

func setRateHeaders(h http.Header, rule rateRule, decision rateDecision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(rule.limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining(rule)))
	if !decision.resetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.resetAt.Unix(), 10))
	}
}

func rateLimitKeyUser(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID != "" {
		return "user:" + info.UserID
	}
	return ""
}

func rateLimitKeyIP(req *http.Request) string {
	host := clientIP(req)
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// rateMetricKey keeps metric cardinality low by reporting only the key kind.
func rateMetricKey(key string) string {
	kind, _, found := strings.Cut(key, ":")
	if !found || kind == "" {
		return "unknown"
	}
	return kind
}
