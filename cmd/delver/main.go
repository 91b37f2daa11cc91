// Delver research orchestrator server. Serves the HTTP API, runs the
// task scheduler, and drives research flows from topic to report.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/probelab/delver/pkg/api"
	"github.com/probelab/delver/pkg/auth"
	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/events"
	"github.com/probelab/delver/pkg/flow"
	"github.com/probelab/delver/pkg/llm"
	"github.com/probelab/delver/pkg/metrics"
	"github.com/probelab/delver/pkg/reporter"
	"github.com/probelab/delver/pkg/research"
	"github.com/probelab/delver/pkg/resilience"
	"github.com/probelab/delver/pkg/scheduler"
	"github.com/probelab/delver/pkg/search"
	"github.com/probelab/delver/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configDir string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "delver",
		Short: "Parallel research workflow orchestrator",
		Long: `Delver runs research flows: a topic is scoped into sections, the
sections are researched concurrently against pluggable search backends,
and the findings are synthesized into a final report.

The server exposes a REST API for starting and inspecting flows, a
websocket event stream, and Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configDir, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config", "c",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	})

	return cmd
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func serve(configDir, logLevel string) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(logLevel),
	})))

	// Load .env from the config directory before anything reads credentials.
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting delver", "version", version.Full(), "config_dir", configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("initialize configuration: %w", err)
	}

	// 2. Metrics and event bus
	m := metrics.New()
	bus := events.NewBus()
	publisher := events.NewPublisher(bus)

	// 3. Error reporter with alert channels
	rep := reporter.New(cfg.Reporter, cfg.Server.Environment, publisher, m)
	rep.RegisterChannel(reporter.NewLogChannel())
	if slackCh := reporter.NewSlackChannel(cfg.Slack); slackCh != nil {
		rep.RegisterChannel(slackCh)
		slog.Info("Slack alert channel registered", "channel", cfg.Slack.Channel)
	}

	var rulesWatcher *reporter.RulesWatcher
	if cfg.Reporter.RulesFile != "" {
		rulesWatcher, err = reporter.NewRulesWatcher(rep, cfg.Reporter.RulesFile, 0)
		if err != nil {
			return fmt.Errorf("create alert rules watcher: %w", err)
		}
		if err := rulesWatcher.Start(ctx); err != nil {
			return fmt.Errorf("start alert rules watcher: %w", err)
		}
	}

	// 4. Model client and search registry. Providers and backends whose
	// credentials are absent are skipped at startup, not fatal.
	breakers := resilience.NewBreakerRegistry()
	client := llm.NewClient(cfg, breakers, m)
	registry := search.NewRegistry(cfg, breakers, rep, m)

	// 5. Research pipeline stages
	stages := research.NewStages(registry, client, rep)

	// 6. Task scheduler
	sched := scheduler.New(cfg.Scheduler, publisher, m)
	sched.Start()

	// 7. Flow manager with retention cleanup
	flows := flow.NewManager(cfg, stages, sched, publisher, rep, m)
	flows.StartCleanup(ctx)

	// 8. Websocket event stream
	connManager := events.NewConnectionManager(10 * time.Second)
	connManager.AttachBus(bus)

	// 9. Auth gate from the configured API keys variable
	gate, err := auth.FromEnv(cfg.Server)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}

	// 10. Start HTTP server (non-blocking)
	srv := api.NewServer(cfg, flows, sched, rep, m, breakers, connManager, gate)
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Delver started successfully",
		"workers", cfg.Scheduler.MaxWorkers,
		"providers", client.Providers(),
		"backends", registry.Backends())

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown. The HTTP server goes down first so no new
	// flows are admitted while the scheduler drains.
	flows.StopCleanup()
	if rulesWatcher != nil {
		if err := rulesWatcher.Stop(); err != nil {
			slog.Error("Error stopping alert rules watcher", "error", err)
		}
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	schedCtx, schedCancel := context.WithTimeout(ctx, cfg.Scheduler.GracefulShutdownTimeout)
	defer schedCancel()
	sched.Stop(schedCtx)

	slog.Info("Shutdown complete")
	return nil
}
