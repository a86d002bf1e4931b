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

	"golang.org/x/sync/errgroup"

	"github.com/Valdrix-AI/valdrix-sub003/internal/breaker"
	"github.com/Valdrix-AI/valdrix-sub003/internal/config"
	"github.com/Valdrix-AI/valdrix-sub003/internal/core"
	"github.com/Valdrix-AI/valdrix-sub003/internal/dispatch"
	"github.com/Valdrix-AI/valdrix-sub003/internal/events"
	"github.com/Valdrix-AI/valdrix-sub003/internal/metrics"
	"github.com/Valdrix-AI/valdrix-sub003/internal/postgres"
	"github.com/Valdrix-AI/valdrix-sub003/internal/scanner"
	"github.com/Valdrix-AI/valdrix-sub003/internal/scheduler"
	"github.com/Valdrix-AI/valdrix-sub003/internal/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AdminAPIKey == "" && !cfg.AllowInsecureNoAuth {
		slog.Error("refusing to start without API authentication", "hint", "set JOBS_ADMIN_API_KEY or JOBS_ALLOW_INSECURE_NO_AUTH=true for local development")
		os.Exit(1)
	}
	if cfg.AllowInsecureNoAuth {
		slog.Warn("⚠️  RUNNING WITHOUT AUTHENTICATION — this is intended for local development only. Set JOBS_ADMIN_API_KEY for any shared or production environment.")
	}

	// Connect to PostgreSQL; migrations run as part of New.
	store, err := postgres.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to PostgreSQL")

	// Lifecycle events and alerts fan out over NATS when configured,
	// otherwise they land on the process log.
	var publisher core.EventPublisher
	if cfg.NatsURL != "" {
		natsPub, err := events.Connect(cfg.NatsURL)
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsPub.Close()
		slog.Info("connected to NATS", "url", cfg.NatsURL)
		publisher = natsPub
	} else {
		publisher = events.NewLogPublisher()
	}

	// Initialize Prometheus build info metric
	metrics.Init(core.EngineVersion)

	registry := dispatch.NewRegistry()
	if err := registerJobTypes(registry); err != nil {
		slog.Error("failed to register job types", "error", err)
		os.Exit(1)
	}

	breakers := breaker.New(store, publisher, breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
		HalfOpenProbes:   cfg.Breaker.HalfOpenProbes,
		CloseAfter:       cfg.Breaker.CloseAfter,
		DailyLimitCents:  cfg.Breaker.DailyLimitCents,
	})

	// Start the maintenance loop: lease reaping, retry promotion, SLO gauges.
	sched := scheduler.New(store, publisher, scheduler.Config{
		ReapInterval:    cfg.Maintain.ReapInterval,
		PromoteInterval: cfg.Maintain.PromoteInterval,
		SLOInterval:     cfg.Maintain.SLOInterval,
		SLOWindow:       cfg.Maintain.SLOWindow,
		PromoteBatch:    cfg.Maintain.PromoteBatch,
	})
	sched.Start()
	defer sched.Stop()

	dispatcher := dispatch.New(store, registry, breakers, publisher, dispatch.Config{
		Workers:      cfg.Dispatch.Workers,
		BatchSize:    cfg.Dispatch.BatchSize,
		Lease:        cfg.Dispatch.Lease,
		PollInterval: cfg.Dispatch.PollInterval,
		Wake:         store.WakeC(),
	})

	cohorts, err := scanner.New(store, registry, scanner.Config{
		TickInterval: cfg.Scan.TickInterval,
		PageSize:     cfg.Scan.PageSize,
	})
	if err != nil {
		slog.Error("failed to build cohort scanner", "error", err)
		os.Exit(1)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return cohorts.Run(gctx) })

	// Create HTTP server
	router := server.NewRouter(store, breakers, publisher, server.Options{
		AdminAPIKey: cfg.AdminAPIKey,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("job engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	cancelRun()
	if err := g.Wait(); err != nil {
		slog.Error("background loops exited with error", "error", err)
	}
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// registerJobTypes declares the platform job types this node knows about.
// Handlers are linked in by the deployment; a type registered with a nil
// handler is scanned, enqueued, and administered here but claimed only by
// nodes that carry its handler.
func registerJobTypes(registry *dispatch.Registry) error {
	types := map[string]dispatch.TypeConfig{
		"cost.ingest": {
			ScanSpec:   "@hourly",
			ScanBucket: time.Hour,
		},
		"carbon.compute": {
			ScanSpec:   "30 2 * * *",
			ScanBucket: 24 * time.Hour,
		},
		"remediation.apply": {
			Risk: core.RiskHigh,
			RetryPolicy: core.RetryPolicy{
				MaxAttempts: 3,
				BaseDelay:   time.Minute,
				Multiplier:  2,
				MaxDelay:    30 * time.Minute,
				JitterPct:   0.2,
			},
		},
	}
	for name, cfg := range types {
		if err := registry.Register(name, cfg); err != nil {
			return err
		}
	}
	return nil
}
