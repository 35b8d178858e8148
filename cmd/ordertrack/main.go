package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/railx/ordertrack/internal/engine"
	"github.com/railx/ordertrack/internal/router"
	"github.com/railx/ordertrack/internal/server"
	"github.com/railx/ordertrack/pkg/auth"
	"github.com/railx/ordertrack/pkg/broker"
	"github.com/railx/ordertrack/pkg/config"
	"github.com/railx/ordertrack/pkg/logging"
	"github.com/railx/ordertrack/pkg/metrics"
	"github.com/railx/ordertrack/pkg/state/statemanager"
)

var version = "dev"

func main() {
	configName := flag.String("config", "config", "config file name (without extension)")
	configDir := flag.String("config-dir", ".", "directory searched for the config file")
	flag.Parse()

	logger := logging.New(logging.LevelInfo, "text")
	cfg, err := config.Load(logger, *configName, *configDir)
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(logger)

	if cfg.Cluster.NodeID == "" {
		cfg.Cluster.NodeID = uuid.NewString()
	}
	bus, err := broker.New(cfg.Cluster, logger)
	if err != nil {
		logger.Error("Failed to connect cluster broker", slog.Any("error", err))
		os.Exit(1)
	}

	stateManager := statemanager.NewInMemoryManager(logger)
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(stateManager.Stats)
	}

	registry := engine.New(logger, engine.Deps{
		Bus:              bus,
		NodeID:           cfg.Cluster.NodeID,
		Metrics:          m,
		ReplayLastEvents: cfg.Relay.ReplayLastEvents,
	})
	registry.RegisterCore()
	if err := config.Compile(cfg, registry.GetActionFunc, registry.GetModifierFunc); err != nil {
		logger.Error("Failed to compile event pipelines", slog.Any("error", err))
		os.Exit(1)
	}
	registry.UsePermissions(cfg.Registry)
	logger.Info("Action engine initialized.",
		slog.Int("events", len(cfg.Pipelines)),
		slog.Int("roles", len(cfg.RoleTable)),
		slog.Int("permissions", len(cfg.Registry.All())),
		slog.String("node", cfg.Cluster.NodeID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, server.Deps{
		StateManager:  stateManager,
		Router:        router.NewEventRouter(logger, stateManager, cfg.Pipelines, registry, m, cfg.Relay.QueueSize),
		Engine:        registry,
		Authenticator: auth.NewVerifier(cfg.Server.Auth.JWTSecret, cfg.RoleTable),
		Broker:        bus,
		Metrics:       m,
		Version:       version,
	})
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
