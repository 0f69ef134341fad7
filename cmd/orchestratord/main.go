// Command orchestratord runs the orchestration core as a standalone
// server: the Scheduler Loop, the Pipeline Execution Engine (reachable via
// the scheduled execute_pipeline action), the shared Postgres store, and a
// readiness probe. It wires every package built in this module together;
// it contains no domain logic of its own.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/alkimya/orchestrator-core/lock"
	"github.com/alkimya/orchestrator-core/pipeline"
	"github.com/alkimya/orchestrator-core/resilience"
	"github.com/alkimya/orchestrator-core/scheduler"
	"github.com/alkimya/orchestrator-core/shutdown"
	"github.com/alkimya/orchestrator-core/store"
	"github.com/alkimya/orchestrator-core/telemetry"

	"github.com/alkimya/orchestrator-core/cmd/orchestratord/httpapi"
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("orchestratord: loading configuration: %v", err)
	}
	logger := cfg.Logger()

	db, err := store.Open(cfg.Store, logger)
	if err != nil {
		logger.Error("orchestratord: opening store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if cfg.Store.MigrateOnStart {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Error("orchestratord: running migrations", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}

	advisory := buildAdvisory(cfg, logger)

	tel, shutdownTelemetry := buildTelemetry(cfg, logger)

	breakers := resilience.NewRegistry(cfg.Resilience.CircuitBreaker, logger)
	metrics := pipeline.NewPrometheusExporter(nil)
	breakers.SetStateObserver(metrics.ObserveBreakerState)

	sink := buildEventSink(cfg, metrics, logger)

	runs := pipeline.NewRunManager(logger)
	dispatchPorts := pipeline.DispatchContext{
		AgentRegistry: pipeline.NoopAgentRegistry{},
		Notifier:      pipeline.NoopNotifier{},
		HTTPCaller:    pipeline.NewDefaultHTTPCaller(),
	}

	adapter := &scheduler.PipelineAdapter{
		Manager:   runs,
		Breakers:  breakers,
		Store:     db,
		Sink:      sink,
		Logger:    logger,
		Dispatch:  dispatchPorts,
		Telemetry: tel,
	}

	dc := scheduler.ActionDispatchContext{
		AgentRegistry:  dispatchPorts.AgentRegistry,
		Notifier:       dispatchPorts.Notifier,
		HTTPCaller:     dispatchPorts.HTTPCaller,
		PipelineLoader: db,
		PipelineRunner: adapter,
	}

	loop := scheduler.NewLoop(db, advisory, dc, cfg.Scheduler, logger)

	shutdownCtl := shutdown.NewController(loop, runs, db, cfg.Shutdown, logger)

	mux := httpapi.NewRouter(cfg.HTTP, shutdownCtl, cfg.Telemetry.ServiceName)
	server := &http.Server{
		Addr:              addr(cfg),
		Handler:           mux,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Scheduler.Enabled {
		go loop.Run(ctx)
	}

	go func() {
		logger.Info("orchestratord: listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("orchestratord: http server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("orchestratord: signal received, shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+
		cfg.Shutdown.LBDrainWindow+cfg.Shutdown.TaskDrainWindow+cfg.Shutdown.ExecutorTimeout)
	defer shutdownCancel()

	if err := shutdownCtl.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestratord: shutdown sequence failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	_ = server.Shutdown(shutdownCtx)
	cancel()
	shutdownTelemetry(shutdownCtx)
	if shutdownCtx.Err() != nil {
		logger.Warn("orchestratord: shutdown timeout exceeded", nil)
		os.Exit(1)
	}

	logger.Info("orchestratord: shutdown complete", nil)
}

// buildAdvisory opens a dedicated pgxpool.Pool for the advisory lock when a
// lock DSN is configured, falling back to lock.NoopAdvisory{} for
// single-instance deployments (§4.A). It is a separate pool from db's
// sqlx/lib-pq connection because pgx's transaction-scoped
// pg_try_advisory_xact_lock needs the pgx driver directly.
func buildAdvisory(cfg *core.Config, logger core.Logger) lock.Advisory {
	dsn := cfg.Lock.DSN
	if dsn == "" {
		dsn = cfg.Store.DSN
	}
	if dsn == "" {
		logger.Warn("orchestratord: no lock DSN configured, using single-instance advisory lock", nil)
		return lock.NoopAdvisory{}
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		logger.Error("orchestratord: opening advisory lock pool, falling back to single-instance", map[string]interface{}{
			"error": err.Error(),
		})
		return lock.NoopAdvisory{}
	}
	return lock.NewPgAdvisory(pool, logger)
}

func addr(cfg *core.Config) string {
	return net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
}

// buildEventSink wires the Prometheus exporter together with Redis pub/sub
// fan-out (§6) when a Redis URL is configured, giving multi-instance
// deployments cross-instance event delivery; a single-instance deployment
// with no Redis URL set gets the Prometheus exporter alone.
func buildEventSink(cfg *core.Config, metrics *pipeline.PrometheusExporter, logger core.Logger) pipeline.EventSink {
	if cfg.Events.RedisURL == "" {
		return metrics
	}

	opt, err := redis.ParseURL(cfg.Events.RedisURL)
	if err != nil {
		logger.Error("orchestratord: parsing events redis url, continuing without Redis fan-out", map[string]interface{}{
			"error": err.Error(),
		})
		return metrics
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("orchestratord: connecting to events redis, continuing without Redis fan-out", map[string]interface{}{
			"error": err.Error(),
		})
		return metrics
	}

	redisSink := pipeline.NewRedisEventSink(client, cfg.Events.RedisChannel, logger)
	return pipeline.NewFanoutEventSink(metrics, redisSink)
}

// buildTelemetry wires run and node dispatch spans to a real OTel exporter
// when enabled, falling back to core.NoOpTelemetry otherwise. The returned
// func drains the exporter during shutdown; it is a no-op when telemetry
// was never enabled.
func buildTelemetry(cfg *core.Config, logger core.Logger) (core.Telemetry, func(ctx context.Context)) {
	if !cfg.Telemetry.Enabled {
		return &core.NoOpTelemetry{}, func(context.Context) {}
	}

	provider, err := telemetry.EnableTelemetry(cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		logger.Error("orchestratord: enabling telemetry, continuing without tracing", map[string]interface{}{
			"error": err.Error(),
		})
		return &core.NoOpTelemetry{}, func(context.Context) {}
	}

	shutdownFn := func(ctx context.Context) {}
	if closer, ok := provider.(interface{ Shutdown(context.Context) error }); ok {
		shutdownFn = func(ctx context.Context) {
			if err := closer.Shutdown(ctx); err != nil {
				logger.Warn("orchestratord: telemetry shutdown", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return provider, shutdownFn
}
