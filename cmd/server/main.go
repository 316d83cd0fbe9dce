package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-pulse/internal/api"
	"github.com/ignite/campaign-pulse/internal/app"
	"github.com/ignite/campaign-pulse/internal/config"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
)

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Campaign Pulse API (cmd/server/main.go)                   ║")
	log.Println("║  Consolidated Klaviyo reporting across regional accounts   ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

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

	if err := a.EnableAssistant(ctx); err != nil {
		// Reports still work without the assistant.
		log.Printf("Assistant not available: %v", err)
	}

	// A snapshot older than two refresh cycles means the worker is behind.
	health := api.NewHealthChecker(a.DB, a.Redis, a.Store, 2*cfg.Worker.Interval())
	handlers := api.NewHandlers(a.Reports, health)
	handlers.SetMarkdownRows(cfg.Agent.MaxRows)
	server := api.NewServer(cfg.Server, handlers)
	log.Println("Routes registered: /health, /api/reports, /api/groups, /api/snapshots, /api/assistant")

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
