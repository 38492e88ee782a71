// Meshbridge connects a mesh lighting gateway to the rest of the building.
//
// The gateway speaks MQTT: it advertises lights, groups and scenes, takes
// commands and answers status polls. Meshbridge keeps a reconciled picture
// of every entity, polls it on a schedule, republishes state under its own
// topic root and serves a REST and WebSocket API.
//
// Configuration is read from configs/config.yaml, or the file named by
// MESHBRIDGE_CONFIG.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/meshbridge/internal/api"
	"github.com/nerrad567/meshbridge/internal/audit"
	"github.com/nerrad567/meshbridge/internal/bridges/mesh"
	"github.com/nerrad567/meshbridge/internal/entity"
	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge/internal/infrastructure/database"
	"github.com/nerrad567/meshbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshbridge/internal/infrastructure/logging"
	"github.com/nerrad567/meshbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshbridge/internal/metrics"
	"github.com/nerrad567/meshbridge/migrations"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "MESHBRIDGE_CONFIG"
)

func main() {
	issue := flag.String("issue-token", "", "print an API token for `subject` and exit")
	role := flag.String("role", "viewer", "role for -issue-token (viewer, operator, admin)")
	ttl := flag.Duration("ttl", 0, "lifetime for -issue-token (default: security.jwt.access_token_ttl)")
	flag.Parse()

	if *issue != "" {
		if err := issueToken(os.Stdout, *issue, *role, *ttl); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, blocks until ctx is cancelled, then shuts
// down in reverse order via the defer chain.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting meshbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database and entity registry
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

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	registry := entity.NewRegistry(entity.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("entity"))
	if err := registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading entity registry: %w", err)
	}
	log.Info("entity registry loaded", "path", cfg.Database.Path, "entities", registry.Count())

	collector := metrics.NewCollector()

	// Bridge MQTT connection
	bridgeClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bridgeClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	bridgeClient.SetLogger(log.Component("mqtt"))
	watchConnection(bridgeClient, "bridge", log, collector)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"topic_root", cfg.MQTT.TopicRoot,
	)

	// Gateway connection
	gatewayClient := bridgeClient
	var gatewayConnected func() bool
	if cfg.Gateway.Connection == config.ConnectionDirect {
		gatewayClient, err = mqtt.Connect(cfg.GatewayBroker())
		if err != nil {
			return fmt.Errorf("connecting to gateway broker: %w", err)
		}
		defer func() {
			log.Info("disconnecting from gateway broker")
			if closeErr := gatewayClient.Close(); closeErr != nil {
				log.Error("error closing gateway connection", "error", closeErr)
			}
		}()
		gatewayClient.SetLogger(log.Component("gateway"))
		watchConnection(gatewayClient, "gateway", log, collector)
		gatewayConnected = gatewayClient.IsConnected
		log.Info("gateway broker connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Gateway.Broker.Host, cfg.Gateway.Broker.Port),
		)
	} else {
		collector.SetConnected("gateway", true)
	}

	// State history (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		influxClient = nil
		log.Info("InfluxDB disabled")
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
		collector.SetPollRecorder(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	if err := healthCheck(ctx, db, bridgeClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Mesh session
	mode, err := mesh.ParseMode(cfg.Polling.Mode)
	if err != nil {
		return fmt.Errorf("polling mode: %w", err)
	}
	session, err := mesh.NewSession(mesh.SessionConfig{
		Transport:   newGatewayTransport(gatewayClient, byte(cfg.MQTT.QoS)),
		Prefix:      cfg.Gateway.TopicPrefix,
		Mode:        mode,
		Interval:    cfg.PollInterval(),
		Timeout:     cfg.PollTimeout(),
		SettleDelay: cfg.SettleDelay(),
		Logger:      log.Component("mesh"),
		Observer:    collector,
	})
	if err != nil {
		return fmt.Errorf("creating mesh session: %w", err)
	}

	sink := newStateSink(stateSinkConfig{
		Registry:  registry,
		History:   historyWriter(influxClient),
		Publisher: bridgeClient,
		Topics:    bridgeClient.Topics(),
		QoS:       byte(cfg.MQTT.QoS),
		Logger:    log.Component("state"),
	})
	sink.Start(ctx)
	defer sink.Stop()

	session.OnStateChange(sink.Submit)
	session.OnDiscovery(func(change mesh.DirectoryChange) {
		if err := registry.RecordDiscovery(ctx, session.Directory(), change); err != nil {
			log.Warn("recording discovery failed", "error", err)
		}
		collector.SetEntityCounts(session.Directory().Counts())
	})

	reporter := mesh.NewHealthReporter(mesh.HealthReporterConfig{
		Topic:            bridgeClient.Topics().Health(),
		Version:          version,
		Publisher:        bridgeClient,
		Session:          session,
		GatewayConnected: gatewayConnected,
	})
	reporter.SetLogger(log.Component("health"))

	// API server
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Session:  session,
		Registry: registry,
		Metrics:  collector,
		Health:   reporter,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server listening", "addr", server.Addr())

	if err := reporter.PublishStarting(); err != nil {
		log.Warn("publishing starting health failed", "error", err)
	}
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting mesh session: %w", err)
	}
	defer func() {
		log.Info("stopping mesh session")
		session.Stop()
	}()
	reporter.Start(ctx)
	defer reporter.Stop()
	session.MarkStarted()

	log.Info("meshbridge running",
		"prefix", session.Topics().Prefix(),
		"mode", session.Mode().String(),
		"connection", cfg.Gateway.Connection,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns MESHBRIDGE_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// watchConnection logs link changes and mirrors them into the connected gauge.
func watchConnection(client *mqtt.Client, broker string, log *logging.Logger, collector *metrics.Collector) {
	collector.SetConnected(broker, client.IsConnected())
	client.SetOnConnect(func() {
		log.Info("MQTT connected", "broker", broker)
		collector.SetConnected(broker, true)
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "broker", broker, "error", err)
		collector.SetConnected(broker, false)
	})
}

// historyWriter avoids storing a typed nil in the interface.
func historyWriter(c *influxdb.Client) historyRecorder {
	if c == nil {
		return nil
	}
	return c
}

// healthCheck verifies infrastructure connections before the session starts.
// influxClient may be nil when history is disabled.
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
