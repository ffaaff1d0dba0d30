// Nuki Gateway bridges Nuki smart locks, openers, boxes and smart doors
// into a named state tree.
//
// Devices are reached through local bridges (Bridge API) and the vendor
// cloud (Web API). State is persisted in SQLite, mirrored to MQTT and
// served over a REST/WebSocket API. Writes to action and configuration
// nodes are dispatched back to the devices.
//
// Usage:
//
//	nukigateway                          run the gateway
//	nukigateway token -subject ui -role operator
//	                                     print an API access token
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/nuki-gateway/migrations"

	"github.com/nerrad567/nuki-gateway/internal/api"
	"github.com/nerrad567/nuki-gateway/internal/auth"
	bridgeapi "github.com/nerrad567/nuki-gateway/internal/bridges/nuki"
	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/dispatch"
	"github.com/nerrad567/nuki-gateway/internal/events"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/archive"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/config"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/database"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/kafka"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/nuki-gateway/internal/reconcile"
	"github.com/nerrad567/nuki-gateway/internal/scheduler"
	"github.com/nerrad567/nuki-gateway/internal/state"
	"github.com/nerrad567/nuki-gateway/internal/webapi"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
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

// run wires the gateway and blocks until ctx is cancelled. Only start-up
// infrastructure failures are returned.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear start-up sequence
	log := logging.Default()
	log.Info("starting Nuki Gateway", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo, deviceRepo)
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry loaded", "devices", registry.Count())

	// State tree
	tree := state.NewTree(state.NewSQLiteStore(db.DB))
	tree.SetLogger(log.Component("state"))
	if restoreErr := tree.Restore(ctx); restoreErr != nil {
		return fmt.Errorf("restoring state tree: %w", restoreErr)
	}

	// Event sinks
	fanout := events.NewFanout()
	fanout.SetLogger(log.Component("events"))
	eventRepo := events.NewSQLiteRepository(db.DB)
	fanout.Add("sqlite", eventRepo)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })

		mirror := state.NewMirror(tree, mqttClient.StateBroker(), log.Component("mirror"))
		if startErr := mirror.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT mirror: %w", startErr)
		}
		defer mirror.Stop()
		fanout.Add("mqtt", events.SinkFunc(mqttClient.PublishEvent))
		log.Info("MQTT mirror started", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	} else {
		log.Info("MQTT disabled")
	}

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
		influxClient.SetLogger(log.Component("influxdb"))
		fanout.Add("influxdb", influxClient)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.Kafka.Enabled {
		exporter, kafkaErr := kafka.NewExporter(cfg.Kafka)
		if kafkaErr != nil {
			return fmt.Errorf("creating Kafka exporter: %w", kafkaErr)
		}
		exporter.SetLogger(log.Component("kafka"))
		defer func() {
			if closeErr := exporter.Close(); closeErr != nil {
				log.Error("error closing Kafka writer", "error", closeErr)
			}
		}()
		fanout.Add("kafka", exporter)
		log.Info("Kafka export enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// Transports
	bridgeClients := make(map[string]*bridgeapi.Client)
	for _, bc := range cfg.ActiveBridges() {
		b, regErr := registry.RegisterBridge(ctx, device.Bridge{
			Name:        bc.Name,
			ID:          bc.ID,
			Host:        bc.Host,
			Port:        bc.Port,
			Token:       bc.Token,
			HashedToken: bc.HashedToken,
		})
		if regErr != nil {
			return fmt.Errorf("registering bridge %s: %w", bc.Name, regErr)
		}
		bridgeClients[b.Key] = bridgeapi.New(bridgeapi.Options{
			Host:         bc.Host,
			Port:         bc.Port,
			Token:        bc.Token,
			HashedToken:  bc.HashedToken,
			RequestDelay: time.Duration(cfg.BridgeAPI.RequestDelayMS) * time.Millisecond,
			Timeout:      time.Duration(cfg.BridgeAPI.RequestTimeout) * time.Second,
		})
		log.Info("bridge configured", "name", bc.Name, "host", bc.Host, "port", bc.Port, "hashed_token", bc.HashedToken)
	}

	var webClient *webapi.Client
	webActive := cfg.WebAPIEnabled()
	if webActive {
		webClient, err = webapi.New(webapi.Options{
			Token:   cfg.WebAPI.Token,
			BaseURL: cfg.WebAPI.URL,
			Timeout: time.Duration(cfg.WebAPI.RequestTimeout) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("creating Web API client: %w", err)
		}
	}

	// Core
	reconciler := reconcile.New(registry, tree, reconcile.Options{
		BridgeAPI:  len(bridgeClients) > 0,
		WebAPI:     webActive,
		SyncConfig: cfg.WebAPI.SyncConfig,
	})
	reconciler.SetLogger(log.Component("reconcile"))
	reconciler.SetSink(fanout)

	sched := scheduler.New(registry, tree, reconciler, schedulerOptions(cfg))
	sched.SetLogger(log.Component("scheduler"))
	for key, c := range bridgeClients {
		sched.AddBridge(key, c)
	}
	if webClient != nil {
		sched.SetWeb(webClient)
	}

	if cfg.Archive.Enabled && webClient != nil && cfg.WebAPI.SyncLogs {
		archiver, archErr := archive.New(cfg.Archive)
		if archErr != nil {
			return fmt.Errorf("creating log archive: %w", archErr)
		}
		if bucketErr := archiver.EnsureBucket(ctx); bucketErr != nil {
			return fmt.Errorf("preparing log archive: %w", bucketErr)
		}
		sched.SetArchiver(archiver)
		log.Info("activity log archive enabled", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
	}

	dispatchOpts := dispatch.Options{
		BridgeConfigured: len(bridgeClients) > 0,
		Bridges: func(bridgeID string) (dispatch.BridgeClient, bool) {
			b, lookupErr := registry.Bridge(bridgeID)
			if lookupErr != nil {
				return nil, false
			}
			c, ok := bridgeClients[b.Key]
			if !ok {
				return nil, false
			}
			return c, true
		},
	}
	if webClient != nil {
		dispatchOpts.Web = webClient
	}
	dispatcher := dispatch.New(registry, tree, dispatchOpts)
	dispatcher.SetLogger(log.Component("dispatch"))
	dispatcher.SetSink(fanout)
	dispatcher.SetRefresher(sched.RefreshWebAfter)
	detach := dispatcher.Attach(tree)
	defer func() {
		detach()
		dispatcher.Stop()
	}()

	// HTTP surfaces
	var callbackServer *api.CallbackServer
	if cfg.BridgeAPI.RefreshType == config.RefreshCallback && len(bridgeClients) > 0 {
		callbackServer = api.NewCallbackServer(cfg.Callback.Port, sched, log.Component("callback"))
		if startErr := callbackServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting callback server: %w", startErr)
		}
		defer func() {
			if closeErr := callbackServer.Close(); closeErr != nil {
				log.Error("error closing callback server", "error", closeErr)
			}
		}()
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			Registry:   registry,
			Store:      tree,
			Dispatcher: dispatcher,
			Events:     eventRepo,
			DB:         db.DB,
			Version:    version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		fanout.Add("websocket", apiServer.Hub())
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Pollers last, once every consumer of their output is in place.
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	log.Info("initialisation complete",
		"bridges", len(bridgeClients),
		"web_api", webActive,
		"event_sinks", fanout.Len(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

func schedulerOptions(cfg *config.Config) scheduler.Options {
	return scheduler.Options{
		RefreshType:       cfg.BridgeAPI.RefreshType,
		RefreshInterval:   time.Duration(cfg.BridgeAPI.RefreshInterval) * time.Second,
		CallbackHost:      cfg.Callback.Host,
		CallbackPort:      cfg.Callback.Port,
		WebInterval:       time.Duration(cfg.WebAPI.RefreshInterval) * time.Second,
		SyncUsers:         cfg.WebAPI.SyncUsers,
		SyncLogs:          cfg.WebAPI.SyncLogs,
		AdditionalWebCall: cfg.WebAPI.AdditionalCall,
		AdditionalDelay:   time.Duration(cfg.WebAPI.AdditionalDelay) * time.Second,
	}
}

func getConfigPath() string {
	if path := os.Getenv("NUKIGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck probes the infrastructure connections in parallel.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	if mqttClient != nil {
		g.Go(func() error {
			if err := mqttClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("mqtt: %w", err)
			}
			return nil
		})
	}
	if influxClient != nil {
		g.Go(func() error {
			if err := influxClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("influxdb: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// runToken prints a signed API access token.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "token subject (required)")
	role := fs.String("role", string(auth.RoleViewer), "viewer or operator")
	ttl := fs.Duration("ttl", 0, "token lifetime (default: security.jwt.access_token_ttl minutes)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lifetime := *ttl
	if lifetime == 0 {
		lifetime = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
