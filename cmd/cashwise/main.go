// Cashwise - Pay with the card that earns the most.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/cashwise/internal/advice"
	"github.com/opensource-finance/cashwise/internal/api"
	"github.com/opensource-finance/cashwise/internal/bus"
	"github.com/opensource-finance/cashwise/internal/cache"
	"github.com/opensource-finance/cashwise/internal/config"
	"github.com/opensource-finance/cashwise/internal/corpus"
	"github.com/opensource-finance/cashwise/internal/domain"
	"github.com/opensource-finance/cashwise/internal/repository"
	"github.com/opensource-finance/cashwise/internal/tracing"
	"github.com/opensource-finance/cashwise/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("CASHWISE_CONFIG"), "Path to a JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting cashwise",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"rules_dir", cfg.Rules.Dir,
		"rules_ttl", cfg.Rules.TTL.String(),
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := tracing.Init(cfg.Tracing, Version); err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load the rule corpus once up front so a broken rules dir is visible at startup
	provider := corpus.NewProvider(cfg.Rules, busImpl)
	snap, err := provider.Reload(ctx)
	if err != nil {
		slog.Error("failed to load rule corpus", "error", err)
		os.Exit(1)
	}
	if len(snap.Rules) == 0 {
		slog.Warn("rule corpus is empty", "dir", cfg.Rules.Dir, "pattern", cfg.Rules.Pattern)
	}
	if cfg.Rules.ReloadCron != "" {
		if err := provider.Schedule(cfg.Rules.ReloadCron); err != nil {
			slog.Error("failed to schedule corpus reload", "error", err)
			os.Exit(1)
		}
		defer provider.Stop()
	}

	advisor := advice.NewService(provider, repo, cacheImpl, cfg.Cache.SuggestionTTL)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, advisor)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Worker.TenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, cfg.RateLimit, repo, cacheImpl, busImpl, advisor, provider, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("cashwise is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"rules", len(snap.Rules),
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("cashwise shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 CASHWISE                  ║")
	fmt.Println("  ║        Cashback account advisor           ║")
	fmt.Println("  ║   Pay with the card that earns the most.  ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Rules:    %s/%s\n", cfg.Rules.Dir, cfg.Rules.Pattern)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /suggest         - Recommend an account for a purchase")
	fmt.Println("    GET    /rules           - List loaded cashback rules")
	fmt.Println("    GET    /rules/{id}      - Get a rule by ID")
	fmt.Println("    POST   /rules/reload    - Re-read the rules directory")
	fmt.Println("    POST   /rules/validate  - Validate a rules document")
	fmt.Println("    GET    /accounts        - List registered accounts")
	fmt.Println("    POST   /accounts        - Register an account")
	fmt.Println("    DELETE /accounts/{id}   - Deactivate an account")
	fmt.Println("    GET    /health          - Health check")
	fmt.Println()
}
