// Package main implements the entry point for xbot-monitoring, the
// gateway that mirrors the robot's NATS bus into an HTTP API and an
// upstream MQTT broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/raven-worx/xbot-monitoring/actions"
	"github.com/raven-worx/xbot-monitoring/broker"
	"github.com/raven-worx/xbot-monitoring/component"
	"github.com/raven-worx/xbot-monitoring/config"
	"github.com/raven-worx/xbot-monitoring/discovery"
	"github.com/raven-worx/xbot-monitoring/feeds"
	gatewayhttp "github.com/raven-worx/xbot-monitoring/gateway/http"
	"github.com/raven-worx/xbot-monitoring/metric"
	"github.com/raven-worx/xbot-monitoring/natsclient"
	"github.com/raven-worx/xbot-monitoring/state"
)

// Build information constants
const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "xbot-monitoring"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\n%s\n", r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	bus, metricsRegistry, err := setupInfrastructure(signalCtx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close(context.Background()) }()

	manager, err := buildComponents(cfg, bus, metricsRegistry, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(signalCtx, manager, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags, answers -version and -help, and installs the
// process-wide logger. The bool result tells run to exit without starting.
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (build %s)\n", appName, Version, BuildTime)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting xbot-monitoring",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// setupInfrastructure connects the robot bus and creates the metrics
// registry
func setupInfrastructure(
	ctx context.Context,
	cfg *config.Config,
) (*natsclient.Client, *metric.MetricsRegistry, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName + "-" + cfg.Gateway.ID),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	url := strings.Join(cfg.NATS.URLs, ",")
	bus, err := natsclient.NewClient(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", url)
	if err := bus.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := bus.WaitForConnection(connCtx); err != nil {
		return nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	return bus, metric.NewMetricsRegistry(), nil
}

// buildComponents wires the cache, the bus consumers, the broker fan-out
// and the HTTP gateway. Registration order is start order; the cache
// applier comes first so every listener finds it running.
func buildComponents(
	cfg *config.Config,
	bus *natsclient.Client,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*component.Manager, error) {
	st := state.NewGatewayState()

	applier, err := state.NewApplier(state.ApplierDeps{
		Config:          state.ApplierConfig{QueueSize: cfg.Gateway.StateQueueSize},
		State:           st,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create state applier: %w", err)
	}

	feedListener, err := feeds.NewListener(feeds.Deps{
		Bus:             bus,
		Applier:         applier,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create feeds listener: %w", err)
	}

	actionListener, err := actions.NewListener(actions.Deps{
		Bus:             bus,
		Applier:         applier,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create actions listener: %w", err)
	}

	dropPolicy, err := discovery.ParseDropPolicy(cfg.Discovery.DropPolicy)
	if err != nil {
		return nil, fmt.Errorf("parse discovery drop policy: %w", err)
	}
	discoveryManager, err := discovery.NewManager(discovery.Deps{
		Config: discovery.Config{
			PollInterval: cfg.Discovery.PollInterval.Std(),
			ProbeTimeout: cfg.Discovery.ProbeTimeout.Std(),
			DropPolicy:   dropPolicy,
		},
		Bus:             bus,
		Applier:         applier,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create discovery manager: %w", err)
	}

	// The broker publisher is optional; a gateway can serve HTTP only.
	var brokerPublisher *broker.Publisher
	if cfg.Broker.Enabled {
		brokerPublisher, err = broker.NewPublisher(broker.Deps{
			Config: broker.Config{
				URL:               cfg.Broker.URL,
				ClientID:          cfg.Broker.ClientID,
				Username:          cfg.Broker.Username,
				Password:          cfg.Broker.Password,
				TopicPrefix:       cfg.Broker.TopicPrefix,
				KeepAlive:         cfg.Broker.KeepAlive.Std(),
				ConnectRetryDelay: cfg.Broker.ConnectRetryDelay.Std(),
				ConnectTimeout:    cfg.Broker.ConnectTimeout.Std(),
				QueueSize:         cfg.Broker.QueueSize,
			},
			Bus:             bus,
			State:           st,
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create broker publisher: %w", err)
		}
		if err := applier.AddSink(brokerPublisher); err != nil {
			return nil, fmt.Errorf("register broker sink: %w", err)
		}
	}

	watched := []component.Discoverable{applier, feedListener, actionListener, discoveryManager}
	if brokerPublisher != nil {
		watched = append(watched, brokerPublisher)
	}

	gateway, err := gatewayhttp.NewGateway(gatewayhttp.Deps{
		SystemName: appName,
		Config: gatewayhttp.Config{
			Addr:            cfg.HTTP.Addr,
			ReadTimeout:     cfg.HTTP.ReadTimeout.Std(),
			WriteTimeout:    cfg.HTTP.WriteTimeout.Std(),
			ShutdownTimeout: cfg.HTTP.ShutdownTimeout.Std(),
		},
		State:           st,
		Bus:             bus,
		Components:      watched,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create http gateway: %w", err)
	}
	if err := applier.AddSink(gateway.Events()); err != nil {
		return nil, fmt.Errorf("register events sink: %w", err)
	}

	manager := component.NewManager(logger)
	manager.Register(applier)
	manager.Register(feedListener)
	manager.Register(actionListener)
	manager.Register(discoveryManager)
	if brokerPublisher != nil {
		manager.Register(brokerPublisher)
	}
	manager.Register(gateway)

	return manager, nil
}

// runWithSignalHandling starts all components and blocks until a
// shutdown signal arrives
func runWithSignalHandling(
	ctx context.Context,
	manager *component.Manager,
	shutdownTimeout time.Duration,
) error {
	if err := manager.StartAll(ctx, shutdownTimeout); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("xbot-monitoring started", "components", len(manager.Components()))

	<-ctx.Done()
	slog.Info("Received shutdown signal")

	if err := manager.StopAll(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("xbot-monitoring shutdown complete")
	return nil
}
