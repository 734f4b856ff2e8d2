package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/factotum-ai/factotum/internal/config"
	"github.com/factotum-ai/factotum/internal/events"
	"github.com/factotum-ai/factotum/internal/gateway"
	"github.com/factotum-ai/factotum/internal/heartbeat"
	"github.com/factotum-ai/factotum/internal/match"
	"github.com/factotum-ai/factotum/internal/models"
	"github.com/factotum-ai/factotum/internal/oracle"
	"github.com/factotum-ai/factotum/internal/scheduler"
	"github.com/factotum-ai/factotum/internal/storage"
	"github.com/factotum-ai/factotum/internal/tasks"
	"github.com/factotum-ai/factotum/internal/toolexec"
	"github.com/factotum-ai/factotum/internal/workflow"
)

// NewGatewayCommand returns the gateway subcommand.
func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Start the Factotum gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runGateway,
	}
}

func runGateway(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg := loadConfig(cmd)

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Event bus + JSONL sink
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	logDir := cfg.Events.LogDir
	if logDir == "" {
		logDir = filepath.Join(config.FactotumPath(), "events")
	}
	eventLog := storage.NewEventLog(logDir)
	eventLog.Attach(bus)
	defer eventLog.Close()

	// Task store + lifecycle
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	lifecycle := tasks.NewManager(store, bus, cfg.Orchestrator.MaxRetries)

	// Tasks caught mid-flight by a previous crash go back to pending.
	recovered, err := tasks.RecoverInterrupted(ctx, store)
	if err != nil {
		return fmt.Errorf("recover interrupted tasks: %w", err)
	}
	if recovered > 0 {
		slog.Info("recovered interrupted tasks", "count", recovered)
	}

	// Reasoning oracle + tool executor share the default chat model
	chatModel, err := models.Create(ctx, cfg.Models)
	if err != nil {
		return fmt.Errorf("init default model: %w", err)
	}

	registry := toolexec.NewRegistry()
	executor := toolexec.NewAgentExecutor(chatModel, registry, cfg.Orchestrator.MaxIterations)

	flow := workflow.NewEngine(lifecycle, oracle.New(chatModel), executor, bus)
	matcher := match.NewEngine(lifecycle, flow, bus)

	// Scheduled-wait sweep
	if cfg.Scheduler.Enabled {
		sweeper, err := scheduler.New(scheduler.Config{
			Lifecycle: lifecycle,
			Resumer:   flow,
			Bus:       bus,
			SweepCron: cfg.Scheduler.SweepCron,
		})
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	hb := heartbeat.NewWriter(filepath.Join(config.FactotumPath(), "heartbeat.json"), addr)
	hb.Start()
	defer hb.Stop()

	server := gateway.NewServer(cfg.Gateway, bus, lifecycle, flow, matcher)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loadConfig reads the configured file, falling back to defaults.
func loadConfig(cmd *cli.Command) *config.Config {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", path, "error", err)
		return config.Default()
	}
	return cfg
}

// openStore builds the task store the config selects.
func openStore(cfg *config.Config) (tasks.Store, error) {
	switch cfg.Store.Driver {
	case "file":
		return tasks.NewFileStore(cfg.Store.Path), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, err
		}
		return tasks.NewSQLStore(cfg.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
