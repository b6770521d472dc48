package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/sitedeploy/internal/admission"
	"github.com/splax/sitedeploy/internal/app/migrate"
	"github.com/splax/sitedeploy/internal/content"
	httpx "github.com/splax/sitedeploy/internal/http"
	"github.com/splax/sitedeploy/internal/manifest"
	"github.com/splax/sitedeploy/internal/materialize"
	"github.com/splax/sitedeploy/internal/repository"
	"github.com/splax/sitedeploy/internal/repository/postgres"
	"github.com/splax/sitedeploy/internal/repository/sqlite"
	"github.com/splax/sitedeploy/internal/retention"
	"github.com/splax/sitedeploy/internal/service/auth"
	"github.com/splax/sitedeploy/internal/service/deploy"
	"github.com/splax/sitedeploy/internal/ws"
	"github.com/splax/sitedeploy/pkg/config"
	"github.com/splax/sitedeploy/pkg/logger"
)

const metricsNamespace = "sitedeploy"

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		log.Error("failed to create output root", "path", cfg.OutputRoot, "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	gate := admission.New[*deploy.Tracker](cfg.MaxConcurrentDeploys,
		admission.WithRegisterer(prometheus.DefaultRegisterer, metricsNamespace))
	fetcher := content.NewHTTPFetcher(cfg.FetchTimeout, cfg.MaxAssetBytes, nil)
	materializer := materialize.New(fetcher, log,
		materialize.WithChunkSize(cfg.ChunkSize),
		materialize.WithStreamThreshold(cfg.StreamThreshold))
	deploySvc := deploy.New(gate, store, store, manifest.New(cfg.UploadsRoot, log), materializer, log, cfg,
		deploy.WithPublisher(hub))

	sweeper := retention.New(cfg.OutputRoot, cfg.SweepInterval, cfg.RetentionWindow, log,
		retention.WithRegisterer(prometheus.DefaultRegisterer, metricsNamespace))
	if sweeper != nil {
		go sweeper.Run(ctx)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, auth.New(cfg.JWTSecret), deploySvc, hub, limiter, store.Ping,
		httpx.WithDeployRateLimit(cfg.DeployRateLimit))
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "driver", cfg.DatabaseDriver, "output_root", cfg.OutputRoot)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := gate.Drain(shutdownCtx); err != nil {
			log.Warn("deploys still running at shutdown", "in_flight", gate.InFlight(), "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (repository.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver)) {
	case "sqlite":
		db, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return sqlite.New(db), nil
	case "", "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		runner, err := migrate.New(pool, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool), nil
	default:
		return nil, errors.New("unsupported database driver " + cfg.DatabaseDriver)
	}
}
