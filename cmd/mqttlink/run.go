package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttlink/internal/api"
	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/database"
	"github.com/nerrad567/mqttlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt/engine"
	"github.com/nerrad567/mqttlink/internal/journal"
	"github.com/nerrad567/mqttlink/migrations"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the broker and serve the status API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath(cmd))
		},
	}
}

// run is the daemon logic, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo,funlen // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting mqttlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open journal database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: time.Duration(cfg.Database.BusyTimeout) * time.Second,
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = defaultClientID()
	}

	recorder := journal.NewRecorder(journal.NewSQLiteRepository(db.DB), log, func() string { return clientID })
	defer recorder.Close()

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
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
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the MQTT client
	mqttClient, err := mqtt.NewClient(engine.NewFactory())
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	defer func() {
		log.Info("closing MQTT client")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT client", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	if applyErr := mqttClient.ApplyConfig(cfg); applyErr != nil {
		return fmt.Errorf("configuring MQTT client: %w", applyErr)
	}

	// Start status API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		health := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		}
		if influxClient != nil {
			health["influxdb"] = influxClient
		}
		apiServer, err = api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.With("component", "api"),
			MQTT:    mqttClient,
			Journal: journal.NewSQLiteRepository(db.DB),
			Health:  health,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("status API disabled")
	}

	sess := &session{
		ctx:      ctx,
		client:   mqttClient,
		clientID: clientID,
		interval: cfg.Negotiation.ReconnectInterval,
		subs:     cfg.Subscriptions,
		log:      log,
	}

	mqttClient.OnTransition(func(t mqtt.Transition) {
		recorder.Observe(t)
		if influxClient != nil {
			influxClient.WriteTransition(clientID, t)
		}
		if apiServer != nil {
			apiServer.PublishTransition(clientID, t)
		}
	})
	mqttClient.OnConnect(func(info mqtt.ConnectionInfo) {
		log.Info("MQTT connected",
			"uri", info.URI,
			"protocol", info.Protocol.String(),
			"fallback", info.Fallback,
		)
		sess.connected(info)
	})
	mqttClient.OnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		sess.scheduleReconnect()
	})
	mqttClient.OnMessage(func(topic string, payload []byte) {
		log.Debug("MQTT message received", "topic", topic, "bytes", len(payload))
		if influxClient != nil {
			influxClient.WriteMessage(clientID, sess.protocol(), topic, len(payload))
		}
		if apiServer != nil {
			apiServer.PublishMessage(clientID, topic, len(payload))
		}
	})

	// Verify infrastructure before connecting
	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("connecting to MQTT broker",
		"uri", mqttClient.Config().ResolveURI(),
		"client_id", clientID,
		"fallback", cfg.Negotiation.Fallback,
	)
	if err := mqttClient.Connect(clientID); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	sess.stop()

	// Deferred Close() calls run in reverse order:
	// API server, MQTT client, InfluxDB, journal recorder, database.

	log.Info("mqttlink stopped")
	return nil
}

// defaultClientID returns "mqttlink-" plus the first eight hex digits of a
// random UUID.
func defaultClientID() string {
	return "mqttlink-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// healthCheck verifies infrastructure connections before the broker session
// starts. MQTT is not checked here since connecting is asynchronous.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// session owns the daemon-level policy around the client: subscribing the
// configured topics and reconnecting once the negotiator has given up.
type session struct {
	ctx      context.Context
	client   *mqtt.Client
	clientID string
	interval time.Duration
	subs     []config.SubscriptionConfig
	log      *logging.Logger

	proto atomic.Uint32

	mu    sync.Mutex
	timer *time.Timer
}

func (s *session) protocol() mqtt.ProtocolVersion {
	return mqtt.ProtocolVersion(s.proto.Load()) //nolint:gosec // stored from a ProtocolVersion
}

// connected records the session protocol and subscribes configured topics
// that are not already tracked (tracked ones were restored by the client).
func (s *session) connected(info mqtt.ConnectionInfo) {
	s.proto.Store(uint32(info.Protocol))

	go func() {
		for _, sub := range s.subs {
			if s.client.HasSubscription(sub.Topic) {
				continue
			}
			if _, err := s.client.Subscribe(sub.Topic, byte(sub.QoS)); err != nil { //nolint:gosec // range checked by config.Validate
				s.log.Warn("MQTT subscribe failed", "topic", sub.Topic, "error", err)
				continue
			}
			s.log.Info("MQTT subscribed", "topic", sub.Topic, "qos", sub.QoS)
		}
	}()
}

// scheduleReconnect arms a single reconnect timer unless reconnecting is
// disabled or the daemon is shutting down.
func (s *session) scheduleReconnect() {
	if s.interval <= 0 || s.ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	s.log.Info("MQTT reconnect scheduled", "in", s.interval.String())
	s.timer = time.AfterFunc(s.interval, s.reconnect)
}

func (s *session) reconnect() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	if s.ctx.Err() != nil || s.client.State().Active() {
		return
	}
	if err := s.client.Connect(s.clientID); err != nil {
		// Synchronous failures fire no disconnect callback, so re-arm here.
		s.log.Warn("MQTT reconnect failed", "error", err)
		s.scheduleReconnect()
	}
}

func (s *session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
