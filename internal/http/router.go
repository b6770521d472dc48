package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/sitedeploy/internal/domain"
	"github.com/splax/sitedeploy/internal/service/deploy"
	"github.com/splax/sitedeploy/internal/ws"
)

// DeployService runs and inspects deploys on behalf of an authenticated user.
type DeployService interface {
	Deploy(ctx context.Context, userID string, in deploy.Input) (*deploy.Result, error)
	Progress(userID, projectID string) (domain.DeployProgress, bool)
	ListByProject(ctx context.Context, userID, projectID string, limit int) ([]domain.Deployment, error)
	InFlight() int
}

// ProgressHub fans progress events out to streaming subscribers.
type ProgressHub interface {
	Register(ownerID, projectID string, client ws.Subscriber)
	Unregister(ownerID, projectID string, client ws.Subscriber)
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux             *http.ServeMux
	logger          *slog.Logger
	auth            Authorizer
	deploy          DeployService
	hub             ProgressHub
	upgrader        websocket.Upgrader
	limiter         RateLimiter
	dbHealth        func(context.Context) error
	deployRateLimit int

	namespace          string
	registerer         prometheus.Registerer
	gatherer           prometheus.Gatherer
	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault   = time.Minute
	rateWindowRealtime  = 30 * time.Second
	rateLimitDeploy     = 10
	rateLimitUserRead   = 120
	rateLimitStream     = 30
	healthCheckTimeout  = 2 * time.Second
	sseHeartbeat        = 15 * time.Second
	maxDeployBodyBytes  = 1 << 20
	busyRetryAfterSecs  = "5"
	defaultMetricsSpace = "sitedeploy"
)

// Option customises a Router.
type Option func(*Router)

// WithMetrics registers HTTP metrics with reg and serves /metrics from gatherer.
func WithMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(r *Router) {
		if reg != nil {
			r.registerer = reg
		}
		if gatherer != nil {
			r.gatherer = gatherer
		}
	}
}

// WithDeployRateLimit bounds deploy requests per user per minute. Zero disables the limit.
func WithDeployRateLimit(n int) Option {
	return func(r *Router) {
		r.deployRateLimit = n
	}
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc Authorizer, deploySvc DeployService, hub ProgressHub, limiter RateLimiter, dbHealth func(context.Context) error, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		auth:   authSvc,
		deploy: deploySvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:         limiter,
		dbHealth:        dbHealth,
		deployRateLimit: rateLimitDeploy,
		namespace:       defaultMetricsSpace,
		registerer:      prometheus.DefaultRegisterer,
		gatherer:        prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	deployRule := rateRule{limit: r.deployRateLimit, window: rateWindowDefault}
	readRule := rateRule{limit: rateLimitUserRead, window: rateWindowDefault}
	streamRule := rateRule{limit: rateLimitStream, window: rateWindowRealtime}
	r.mux.HandleFunc("/deploy", r.audit("deploy", r.handlerAuthRate("deploy", deployRule, r.handleDeploy)))
	r.mux.HandleFunc("/deploy/progress", r.audit("deploy_progress", r.handlerAuthRate("read", readRule, r.handleProgress)))
	r.mux.HandleFunc("/deploy/progress/stream", r.audit("deploy_progress_stream", r.handlerAuthRate("stream", streamRule, r.handleProgressStream)))
	r.mux.HandleFunc("/deploys", r.audit("deploys", r.handlerAuthRate("read", readRule, r.handleDeployments)))
	r.mux.HandleFunc("/ws/deploys", r.audit("ws_deploys", r.handlerAuthRate("stream", streamRule, r.handleDeployWS)))
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for deploy", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var payload deploy.Input
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxDeployBodyBytes)).Decode(&payload); err != nil {
		writeErrorDetails(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	// A deploy that has been admitted runs to completion even if the caller goes away.
	result, err := r.deploy.Deploy(context.WithoutCancel(req.Context()), info.UserID, payload)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) writeDeployError(w http.ResponseWriter, err error) {
	var perr *deploy.ProcessingError
	switch {
	case errors.Is(err, deploy.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, deploy.ErrValidation):
		writeErrorDetails(w, http.StatusBadRequest, "Missing or invalid fields", err.Error())
	case errors.Is(err, deploy.ErrNotFound):
		writeError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, deploy.ErrConflict):
		writeError(w, http.StatusConflict, "Deploy already in progress for this project")
	case errors.Is(err, deploy.ErrBusy):
		w.Header().Set("Retry-After", busyRetryAfterSecs)
		writeError(w, http.StatusTooManyRequests, "Server is busy. Too many deploys in progress. Please try again later.")
	case errors.As(err, &perr):
		elapsed := perr.Elapsed.Milliseconds()
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:            "Deploy failed",
			Details:          perr.Err.Error(),
			DeployTimeMillis: &elapsed,
		})
	default:
		r.logger.Error("deploy error", "error", err)
		writeErrorDetails(w, http.StatusInternalServerError, "Deploy failed", err.Error())
	}
}

func (r *Router) handleProgress(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, projectID, ok := r.projectQuery(w, req)
	if !ok {
		return
	}
	progress, found := r.deploy.Progress(info.UserID, projectID)
	if !found {
		writeError(w, http.StatusNotFound, "no deploy in progress")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

type deploymentView struct {
	ID             string              `json:"id"`
	ProjectID      string              `json:"projectId"`
	ProjectName    string              `json:"projectName"`
	Status         domain.DeployStatus `json:"status"`
	OutputPath     string              `json:"outputPath"`
	FileCount      int                 `json:"fileCount"`
	BytesWritten   int64               `json:"bytesWritten"`
	Error          string              `json:"error,omitempty"`
	StartedAt      time.Time           `json:"startedAt"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
	DurationMillis int64               `json:"durationMillis"`
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, projectID, ok := r.projectQuery(w, req)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	deployments, err := r.deploy.ListByProject(req.Context(), info.UserID, projectID, limit)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	views := make([]deploymentView, 0, len(deployments))
	for _, d := range deployments {
		views = append(views, deploymentView{
			ID:             d.ID,
			ProjectID:      d.ProjectID,
			ProjectName:    d.ProjectName,
			Status:         d.Status,
			OutputPath:     d.OutputPath,
			FileCount:      d.FileCount,
			BytesWritten:   d.BytesWritten,
			Error:          d.Error,
			StartedAt:      d.StartedAt,
			CompletedAt:    d.CompletedAt,
			DurationMillis: d.DurationMillis,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleDeployWS(w http.ResponseWriter, req *http.Request) {
	info, projectID, ok := r.projectQuery(w, req)
	if !ok {
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "progress streaming disabled")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(info.UserID, projectID, client)
	if progress, found := r.deploy.Progress(info.UserID, projectID); found {
		r.sendSnapshot(client, projectID, progress)
	}
	go func() {
		defer func() {
			r.hub.Unregister(info.UserID, projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleProgressStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, projectID, ok := r.projectQuery(w, req)
	if !ok {
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "progress streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(info.UserID, projectID, client)
	defer r.hub.Unregister(info.UserID, projectID, client)
	if progress, found := r.deploy.Progress(info.UserID, projectID); found {
		r.sendSnapshot(client, projectID, progress)
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) sendSnapshot(client ws.Subscriber, projectID string, progress domain.DeployProgress) {
	payload, err := json.Marshal(deploy.Event{ProjectID: projectID, Progress: progress})
	if err != nil {
		return
	}
	_ = client.Send(payload)
}

// projectQuery returns the caller and the required projectId query parameter.
func (r *Router) projectQuery(w http.ResponseWriter, req *http.Request) (authInfo, string, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return authInfo{}, "", false
	}
	projectID := strings.TrimSpace(req.URL.Query().Get("projectId"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "projectId query parameter required")
		return authInfo{}, "", false
	}
	return info, projectID, true
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.deploy != nil {
		components["deploys"] = map[string]any{"inFlight": r.deploy.InFlight()}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
