// Package app wires configuration, infrastructure, and domain collaborators
// into the two runtime modes Ephemera runs as: "webhook" (HTTP ingress) and
// "worker" (the job runtime and reconciliation scheduler).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sabiut/ephemera/internal/config"
	"github.com/sabiut/ephemera/internal/httpserver"
	"github.com/sabiut/ephemera/internal/platform"
	"github.com/sabiut/ephemera/internal/telemetry"
	"github.com/sabiut/ephemera/pkg/cluster"
	"github.com/sabiut/ephemera/pkg/environment"
	"github.com/sabiut/ephemera/pkg/jobs"
	"github.com/sabiut/ephemera/pkg/lifecycle"
	"github.com/sabiut/ephemera/pkg/sourcehost"
	"github.com/sabiut/ephemera/pkg/synth"
	"github.com/sabiut/ephemera/pkg/webhook"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the mode named by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting ephemera", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	controller, err := buildController(cfg, logger, db, rdb)
	if err != nil {
		return fmt.Errorf("building lifecycle controller: %w", err)
	}

	switch cfg.Mode {
	case "webhook":
		return runWebhook(ctx, cfg, logger, db, rdb, metricsReg, controller)
	case "worker":
		return runWorker(ctx, cfg, logger, controller)
	default:
		return fmt.Errorf("unknown mode: %s (expected \"webhook\" or \"worker\")", cfg.Mode)
	}
}

// buildController constructs the cluster, source-host, and synthesis
// drivers and wires them into a single lifecycle.Controller shared by both
// runtime modes.
func buildController(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) (*lifecycle.Controller, error) {
	clusterDriver, err := cluster.NewDriver(cfg.Kubeconfig, cfg.ClusterDriverDisabled, logger)
	if err != nil {
		return nil, fmt.Errorf("building cluster driver: %w", err)
	}

	sourceHost, err := sourcehost.NewDriver(cfg.GitHubAppID, cfg.GitHubAppPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("building source-host driver: %w", err)
	}

	provider, err := synth.NewProvider(cfg.AIProvider,
		cfg.AnthropicAPIKey, cfg.AnthropicModel,
		cfg.OpenAIAPIKey, cfg.OpenAIModel,
		cfg.GeminiAPIKey, cfg.GeminiModel,
	)
	if err != nil {
		return nil, fmt.Errorf("building synthesis provider: %w", err)
	}
	if provider == nil {
		logger.Info("AI synthesis disabled (no API key configured for provider)", "provider", cfg.AIProvider)
	}

	synthesizer := &synth.Synthesizer{
		Provider: provider,
		Fetcher:  sourceHost,
		Cache:    synth.NewCache(cfg.AICacheTTL),
		Logger:   logger,
	}

	store := environment.NewStore(db)
	queue := jobs.NewQueue(rdb)

	return lifecycle.New(store, clusterDriver, sourceHost, synthesizer, queue, logger, lifecycle.Config{
		BaseDomain:      cfg.BaseDomain,
		NamespaceCPU:    cfg.NamespaceResourceCPU,
		NamespaceMemory: cfg.NamespaceResourceMem,
		NamespacePods:   cfg.NamespacePodLimit,
		StaleThreshold:  cfg.StaleThreshold,
		RetentionDays:   cfg.RetentionDays,
		RetryMaxAge:     cfg.RetryMaxAge,
	}), nil
}

// runWebhook starts the HTTP ingress process: the GitHub webhook endpoint
// and the direct environments API.
func runWebhook(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, controller *lifecycle.Controller) error {
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	webhookHandler := &webhook.Handler{Dispatcher: controller, Logger: logger}
	srv.Router.With(webhook.VerifyMiddleware(cfg.GitHubWebhookSecret)).Post("/webhooks/github", webhookHandler.ServeHTTP)

	srv.Router.Mount("/api/v1/environments", controller.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker starts the job runtime: one Worker per queue plus the
// reconciliation Scheduler, all running until ctx is cancelled.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, controller *lifecycle.Controller) error {
	logger.Info("worker started")

	handlers := controller.Handlers()

	environmentWorker := &jobs.Worker{
		Queue:       controller.Jobs,
		QueueName:   jobs.QueueEnvironment,
		WorkerID:    "environment-worker",
		Handlers:    handlers,
		SoftTimeout: cfg.JobSoftTimeout,
		HardTimeout: cfg.JobHardTimeout,
		Logger:      logger,
	}
	cleanupWorker := &jobs.Worker{
		Queue:       controller.Jobs,
		QueueName:   jobs.QueueCleanup,
		WorkerID:    "cleanup-worker",
		Handlers:    handlers,
		SoftTimeout: cfg.JobSoftTimeout,
		HardTimeout: cfg.JobHardTimeout,
		Logger:      logger,
	}
	scheduler := &jobs.Scheduler{
		Queue:    controller.Jobs,
		Interval: cfg.CleanupInterval,
		Logger:   logger,
	}

	done := make(chan struct{}, 3)
	go func() { environmentWorker.Run(ctx); done <- struct{}{} }()
	go func() { cleanupWorker.Run(ctx); done <- struct{}{} }()
	go func() { scheduler.Run(ctx); done <- struct{}{} }()

	<-ctx.Done()
	<-done
	<-done
	<-done
	return nil
}
