package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-pulse/internal/app"
	"github.com/ignite/campaign-pulse/internal/config"
	"github.com/ignite/campaign-pulse/internal/pkg/distlock"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
)

const lockKey = "campaign-pulse:snapshot-refresh"

func main() {
	log.Println("Starting Campaign Pulse snapshot worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		logger.SetLevel(logger.ParseLevel(lvl))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	var lock distlock.DistLock
	switch {
	case a.Redis != nil:
		lock = distlock.NewLock(a.Redis, nil, lockKey, cfg.Worker.LockTTL())
		log.Println("Using Redis lock for snapshot refresh")
	case a.DB != nil:
		lock = distlock.NewLock(nil, a.DB, lockKey, cfg.Worker.LockTTL())
		log.Println("Redis not configured — using PG advisory lock for snapshot refresh")
	default:
		log.Println("WARNING: no Redis or database configured; running without a lock, do not scale this worker")
	}

	interval := cfg.Worker.Interval()
	log.Printf("Refreshing snapshots every %s (lookback %d days)", interval, cfg.Worker.LookbackDays)

	stopped := runLoop(ctx, interval, func(ctx context.Context) {
		refresh(ctx, a, lock, cfg)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	// Let an in-flight refresh unwind so its lock is released.
	select {
	case <-stopped:
	case <-time.After(30 * time.Second):
		log.Println("Refresh did not stop within 30s")
	}
	log.Println("Worker stopped")
}

// runLoop calls tick now and then every interval until ctx is done. The
// returned channel closes once the last tick has returned.
func runLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		tick(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
	return stopped
}

func refresh(ctx context.Context, a *app.App, lock distlock.DistLock, cfg *config.Config) {
	lookback := time.Duration(cfg.Worker.LookbackDays) * 24 * time.Hour
	run := func(ctx context.Context) error {
		meta, err := a.Reports.RefreshSnapshot(ctx, lookback)
		if err != nil {
			return err
		}
		logger.Info("snapshot stored", "id", meta.ID, "accounts", len(meta.Accounts), "rows", meta.Rows)
		return nil
	}

	var err error
	if lock == nil {
		err = run(ctx)
	} else {
		err = distlock.RunKeepAlive(ctx, lock, cfg.Worker.LockTTL(), run)
	}
	switch {
	case err == nil:
	case errors.Is(err, distlock.ErrNotAcquired):
		logger.Info("snapshot refresh skipped, another worker holds the lock")
	case errors.Is(err, distlock.ErrNotHeld):
		logger.Warn("snapshot refresh abandoned, lock was lost")
	case errors.Is(err, context.Canceled):
	default:
		logger.Error("snapshot refresh failed", "error", err)
	}
}
