// fieldcore - IoT telemetry core
//
// This is the main entry point for the fieldcore service. fieldcore
// ingests MQTT telemetry and status from field devices, tracks their
// presence, evaluates threshold alarm rules, and dispatches acknowledged
// commands back to the field.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/fieldmesh/fieldcore/migrations"

	"github.com/fieldmesh/fieldcore/internal/alarm"
	"github.com/fieldmesh/fieldcore/internal/alert"
	"github.com/fieldmesh/fieldcore/internal/api"
	"github.com/fieldmesh/fieldcore/internal/command"
	"github.com/fieldmesh/fieldcore/internal/device"
	"github.com/fieldmesh/fieldcore/internal/infrastructure/config"
	"github.com/fieldmesh/fieldcore/internal/infrastructure/database"
	"github.com/fieldmesh/fieldcore/internal/infrastructure/influxdb"
	"github.com/fieldmesh/fieldcore/internal/infrastructure/logging"
	"github.com/fieldmesh/fieldcore/internal/infrastructure/mqtt"
	"github.com/fieldmesh/fieldcore/internal/ingest"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
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
	log.Info("starting fieldcore",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}

	// Device presence tracker, warmed from the devices table
	deviceRepo := device.NewSQLiteRepository(db.DB)
	tracker := device.NewTracker(deviceRepo, cfg.FreshnessWindow())
	tracker.SetLogger(log)
	if loadErr := tracker.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device cache: %w", loadErr)
	}
	log.Info("device cache loaded", "devices", len(tracker.List()))

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT, version)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional, telemetry history)
	var influxClient *influxdb.Client
	influxClient, err = influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		influxClient = nil
		log.Info("InfluxDB disabled, telemetry history off")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Alarm rules and alert history
	ruleRepo := alarm.NewSQLiteRepository(db.DB)
	alertStore := alert.NewStore(db.DB)

	// Command dispatch
	dispatcher := command.NewDispatcher(mqttClient, tracker, cfg.AckTimeout(), cfg.Command.RetryAttempts)
	dispatcher.SetLogger(log)
	defer dispatcher.Close()
	systemHandler := command.NewSystemHandler(dispatcher, mqttClient)

	// HTTP API and WebSocket hub
	apiServer, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Tracker: tracker,
		Rules:   ruleRepo,
		Alerts:  alertStore,
		Sender:  dispatcher,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	hub := apiServer.Hub()

	// Alerts fan out to history first, then to live subscribers
	alertSink := alert.NewFanout(alertStore, hub)
	evaluator := alarm.NewEvaluator(ruleRepo, alertSink)

	// Ingest pipeline wires everything to the broker
	var series ingest.TimeSeriesWriter
	if influxClient != nil {
		series = influxClient
	}
	ingestor := ingest.NewIngestor(ingest.IngestorDeps{
		Tracker:     tracker,
		Evaluator:   evaluator,
		Series:      series,
		Alerts:      alertSink,
		Responder:   dispatcher,
		System:      systemHandler,
		Broadcaster: hub,
		Logger:      log,
	})
	ingestService := ingest.NewService(ingest.ServiceConfig{
		Subscriber:    mqttClient,
		Ingestor:      ingestor,
		Tracker:       tracker,
		Canceller:     dispatcher,
		Logger:        log,
		QueueSize:     cfg.Ingest.QueueSize,
		SweepInterval: cfg.SweepInterval(),
	})

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := ingestService.Start(ctx); err != nil {
		return fmt.Errorf("starting ingest pipeline: %w", err)
	}
	defer func() {
		log.Info("stopping ingest pipeline")
		ingestService.Stop()
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Ingest pipeline (stop consuming before tearing down dependencies)
	// 2. API server
	// 3. Dispatcher (fail pending commands)
	// 4. InfluxDB (if enabled)
	// 5. MQTT (publishes retained offline status)
	// 6. Database

	log.Info("fieldcore stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FIELDCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FIELDCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
