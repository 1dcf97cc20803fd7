package main

// Periodically fail runs stranded in queued/processing, for deployments
// where an API replica can die mid-generation:
//   go run ./cmd/sweeper

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"techdoc-backend/internal/runs"
	"techdoc-backend/internal/shared/config"
	"techdoc-backend/internal/shared/storage/db"
	"techdoc-backend/internal/shared/telemetry"
)

const (
	defaultSweepIntervalSec = 300
	defaultMaxAgeSec        = 3600
)

func main() {
	cfg := config.Load()
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(envInt("SWEEP_INTERVAL_SECONDS", defaultSweepIntervalSec)) * time.Second
	maxAge := time.Duration(envInt("SWEEP_MAX_AGE_SECONDS", defaultMaxAgeSec)) * time.Second

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer sqlDB.Close()

	repo := &runs.PGRepo{DB: sqlDB}

	log.Printf("sweeper started interval=%s max_age=%s", interval, maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep(ctx, repo, maxAge)
	for {
		select {
		case <-ctx.Done():
			log.Printf("shutdown requested")
			return
		case <-ticker.C:
			sweep(ctx, repo, maxAge)
		}
	}
}

func sweep(ctx context.Context, repo runs.Repo, maxAge time.Duration) {
	cutoff := time.Now().UTC().Add(-maxAge)
	n, err := repo.MarkStuckFailed(ctx, cutoff)
	if err != nil {
		telemetry.Error("sweeper.mark_stuck_failed", map[string]any{"error": err.Error()})
		return
	}
	if n > 0 {
		telemetry.Info("sweeper.marked_stuck", map[string]any{
			"count":  n,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}
