// Kestrel - Real-time fraud scoring for payment transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/service"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(config.NewLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"profile", cfg.Profile,
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

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

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

	// Classifier is optional; scoring degrades to rules only.
	classifier := model.NewLoader(cfg.Model).LoadClassifier(ctx)

	static, err := rules.NewStaticRuleSet(rules.DefaultStaticConfig().Merge(rules.StaticConfig{
		AmountThreshold:      cfg.Scoring.AmountThreshold,
		HighRiskChannels:     cfg.Scoring.HighRiskChannels,
		HighRiskPaymentModes: cfg.Scoring.HighRiskPaymentModes,
	}))
	if err != nil {
		slog.Error("failed to compile static rules", "error", err)
		os.Exit(1)
	}

	scorer, err := scoring.NewScorer(classifier, static,
		scoring.WithAIWeight(cfg.Scoring.AIWeight),
		scoring.WithBatchLimit(cfg.Scoring.BatchConcurrency),
	)
	if err != nil {
		slog.Error("failed to initialize scorer", "error", err)
		os.Exit(1)
	}
	slog.Info("scorer initialized",
		"model_available", scorer.ModelAvailable(),
		"ai_weight", cfg.Scoring.AIWeight,
		"amount_threshold", static.Config().AmountThreshold,
	)

	velocitySvc := velocity.NewService(repo, cacheImpl, cfg.Scoring.VelocityWindow)

	detector := service.NewDetector(scorer, repo,
		service.WithCache(cacheImpl),
		service.WithBus(busImpl),
		service.WithVelocity(velocitySvc),
		service.WithThreshold(cfg.Scoring.Threshold),
		service.WithRulesTTL(cfg.Cache.RulesTTL),
	)

	// Custom rules are managed via the API; an empty table is fine.
	if count, err := detector.ReloadRules(ctx); err != nil {
		slog.Warn("failed to load custom rules, starting with none", "error", err)
	} else if count == 0 {
		slog.Info("no custom rules in database - configure via POST /rules API")
	}

	// Other instances announce rule changes on the bus.
	if cfg.Profile == domain.ProfileDistributed {
		if _, err := detector.WatchRules(ctx); err != nil {
			slog.Error("failed to watch rule changes", "error", err)
		}
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, detector)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Worker.Count}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "workers", cfg.Worker.Count)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, detector, repo, cacheImpl, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
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
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==========================================")
	fmt.Println("                 KESTREL")
	fmt.Println("       Real-time Fraud Scoring Engine")
	fmt.Println("  ==========================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Profile:  %s\n", cfg.Profile)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /detect             - Score a transaction")
	fmt.Println("    POST   /batch-detect       - Score up to 1000 transactions")
	fmt.Println("    POST   /report             - Report a confirmed outcome")
	fmt.Println("    GET    /reports            - List fraud reports")
	fmt.Println("    GET    /metrics            - Precision, recall and F1")
	fmt.Println("    GET    /transactions       - List scored transactions")
	fmt.Println("    GET    /transactions/{id}  - Get transaction by ID")
	fmt.Println("    GET    /rules              - List custom rules")
	fmt.Println("    POST   /rules              - Create a custom rule")
	fmt.Println("    PUT    /rules/{id}         - Replace a custom rule")
	fmt.Println("    DELETE /rules/{id}         - Delete a custom rule")
	fmt.Println("    POST   /rules/reload       - Hot-reload rules from database")
	fmt.Println("    GET    /health             - Health check")
	fmt.Println("    GET    /metrics/prometheus - Prometheus scrape endpoint")
	fmt.Println()
}
