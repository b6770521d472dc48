package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/sitedeploy/internal/app/migrate"
	"github.com/splax/sitedeploy/internal/repository/sqlite"
	"github.com/splax/sitedeploy/pkg/config"
	"github.com/splax/sitedeploy/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", slog.LevelInfo)

	if strings.EqualFold(strings.TrimSpace(cfg.DatabaseDriver), "sqlite") {
		if *command != "up" {
			log.Error("sqlite databases only support the up command", "command", *command)
			os.Exit(1)
		}
		db, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to migrate sqlite database", "error", err)
			os.Exit(1)
		}
		_ = db.Close()
		log.Info("migration command completed", "command", *command, "driver", "sqlite")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	defer pool.Close()

	runner, err := migrate.New(pool, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Ping(ctx); err != nil {
		log.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runner.Status(ctx, os.Stdout); err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}
