// Jex orchestrator server: provides the task HTTP API, runs the
// background collaboration pipeline, and streams progress to clients.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jexlab/jex/pkg/api"
	"github.com/jexlab/jex/pkg/cleanup"
	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/database"
	"github.com/jexlab/jex/pkg/events"
	"github.com/jexlab/jex/pkg/llm"
	"github.com/jexlab/jex/pkg/locks"
	"github.com/jexlab/jex/pkg/services"
	"github.com/jexlab/jex/pkg/worker"
)

// runnerShutdownTimeout bounds how long shutdown waits for active tasks
// to cancel and unwind. Lock TTLs cover anything left behind.
const runnerShutdownTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting jex",
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	taskStore := database.NewTaskStore(dbClient)
	userStore := database.NewUserStore(dbClient)
	auditStore := database.NewAuditStore(dbClient)

	// 3. Optional Redis, shared by the distributed bus and lock
	var rdb *redis.Client
	if cfg.Flags.UseRedisCache || cfg.Flags.UseRedisLock {
		opts, err := redis.ParseURL(getEnv("REDIS_URL", "redis://localhost:6379/0"))
		if err != nil {
			slog.Error("Failed to parse Redis URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "addr", opts.Addr, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				slog.Error("Error closing Redis client", "error", err)
			}
		}()
		slog.Info("Connected to Redis", "addr", opts.Addr)
	}

	// 4. Progress bus
	var bus events.Bus
	if cfg.Flags.UseRedisCache {
		redisBus, err := events.NewRedisBus(ctx, rdb, cfg.Limits)
		if err != nil {
			slog.Error("Failed to start Redis bus", "error", err)
			os.Exit(1)
		}
		bus = redisBus
		slog.Info("Progress bus initialized", "mode", "redis")
	} else {
		bus = events.NewMemoryBus(cfg.Limits)
		slog.Info("Progress bus initialized", "mode", "memory")
	}

	// 5. Task lock
	var lock locks.TaskLock
	if cfg.Flags.UseRedisLock {
		lock = locks.NewRedisLock(rdb, cfg.Limits.LockTTL)
		slog.Info("Task lock initialized", "mode", "redis", "ttl", cfg.Limits.LockTTL)
	} else {
		lock = locks.NewMemoryLock(cfg.Limits.LockTTL)
		slog.Info("Task lock initialized", "mode", "memory", "ttl", cfg.Limits.LockTTL)
	}

	// 6. Upstream client manager and the phase graph
	manager := llm.NewManagerFromConfig(cfg)
	engine, err := worker.NewTaskGraph(manager, cfg.Limits.HardRoundCap)
	if err != nil {
		slog.Error("Failed to build task graph", "error", err)
		os.Exit(1)
	}
	slog.Info("Upstream clients initialized", "client_version", cfg.Flags.ClientVersion)

	// 7. Background runner and task service
	runner := worker.NewRunner(engine, taskStore, userStore, auditStore, bus, lock, cfg.Limits)

	quota := services.NewQuotaGate(userStore, cfg.Flags.DisableQuotaCheck)
	if cfg.Flags.DisableQuotaCheck {
		slog.Warn("Quota check disabled")
	}
	taskService := services.NewTaskService(taskStore, quota, engine, manager, runner, cfg.Limits)
	slog.Info("Services initialized")

	// 8. Retention loop
	cleanupService := cleanup.NewService(cfg.Retention, taskStore)
	cleanupService.Start(ctx)

	// 9. HTTP server (non-blocking start)
	httpServer := api.NewServer(cfg, dbClient, taskService, bus)
	if rdb != nil {
		httpServer.SetRedis(rdb)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + httpPort); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Jex started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: drain HTTP first so no new work arrives,
	// then cancel and wait out the runner, then release the bus.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	cleanupService.Stop()

	runnerShutdownCtx, runnerCancel := context.WithTimeout(ctx, runnerShutdownTimeout)
	defer runnerCancel()

	done := make(chan struct{})
	go func() {
		runner.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Task runner stopped gracefully")
	case <-runnerShutdownCtx.Done():
		slog.Warn("Runner shutdown timeout exceeded, lock TTLs cover unfinished tasks")
	}

	bus.Close()

	slog.Info("Shutdown complete")
}
