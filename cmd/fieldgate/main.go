// Fieldgate - IoT MQTT Message Gateway
//
// This is the main entry point for the Fieldgate gateway. Fieldgate
// bridges an MQTT broker and operator dashboards: it folds device
// telemetry into an in-memory registry, serves it over a read-only
// HTTP API, and pushes live broker traffic to WebSocket clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harvestgrid/fieldgate-core/internal/api"
	"github.com/harvestgrid/fieldgate-core/internal/gateway"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/config"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/logging"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/mqtt"
	"github.com/harvestgrid/fieldgate-core/internal/registry"
	"github.com/harvestgrid/fieldgate-core/internal/status"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Fieldgate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Entity registry: in-memory, rebuilt from broker traffic on restart
	reg := registry.New()
	reg.SetLogger(log.With("component", "registry"))

	// Connect to MQTT broker. Connect returns immediately; an
	// unreachable broker is retried in the background until it appears.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	log.Info("MQTT client started",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Broker ingestion gateway
	deviceQoS := byte(cfg.MQTT.QoS)
	gw, err := gateway.New(gateway.Options{
		Broker:    mqttClient,
		Registry:  reg,
		Logger:    log.With("component", "gateway"),
		DeviceQoS: &deviceQoS,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	gw.Start()
	defer func() {
		log.Info("stopping gateway")
		gw.Stop()
	}()

	// Status aggregator: periodic process metrics sampling
	agg, err := status.New(status.Options{
		Gateway:        gw,
		Counts:         reg,
		Logger:         log.With("component", "status"),
		SampleInterval: cfg.Status.GetSampleInterval(),
	})
	if err != nil {
		return fmt.Errorf("creating status aggregator: %w", err)
	}
	go agg.Run(ctx)

	// HTTP API and WebSocket push channel
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.With("component", "api"),
		Registry: reg,
		Gateway:  gw,
		Status:   agg,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Gateway
	// 3. MQTT client

	log.Info("Fieldgate stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FIELDGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FIELDGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
