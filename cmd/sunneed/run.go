package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sunneed/sunneed/internal/api"
	"github.com/sunneed/sunneed/internal/capability"
	"github.com/sunneed/sunneed/internal/device"
	"github.com/sunneed/sunneed/internal/infrastructure/config"
	"github.com/sunneed/sunneed/internal/infrastructure/database"
	"github.com/sunneed/sunneed/internal/infrastructure/influxdb"
	"github.com/sunneed/sunneed/internal/infrastructure/logging"
	"github.com/sunneed/sunneed/internal/infrastructure/mqtt"
	"github.com/sunneed/sunneed/internal/listener"
	"github.com/sunneed/sunneed/internal/monitor"
	"github.com/sunneed/sunneed/internal/pip"
	"github.com/sunneed/sunneed/internal/telemetry"
	"github.com/sunneed/sunneed/internal/worker"
	"github.com/sunneed/sunneed/migrations"
)

// run is the daemon, separated from main for testability.
//
// Startup is sequential and each stage returns on failure: configuration,
// optional infrastructure and its health check, device load, first
// election, workers (including the first poll), status API, listener. run
// then blocks until ctx is cancelled or a fatal error occurs.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//   - logOut: Destination for log records
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string, logOut io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.NewWithWriter(logOut, cfg.Logging, version)
	log.Info("sunneed is initializing...",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	src, db, closeSrc, err := openDeviceSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSrc()

	components := infrastructure(db, mqttClient, influxClient)
	if err := healthCheck(ctx, components); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	builderOpts := capability.Options{
		GeoIPDatabase: cfg.GeoIP.Database,
		WatchGeoIP:    true,
		Logger:        log.Component("capability"),
	}
	if mqttClient != nil {
		builderOpts.Subscriber = mqttClient
	}
	caps := capability.NewBuilder(builderOpts)
	defer func() {
		if closeErr := caps.Close(); closeErr != nil {
			log.Error("error closing capabilities", "error", closeErr)
		}
	}()

	registry, err := device.Load(ctx, src, caps, log.Component("registry"))
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	state := pip.NewState(pip.Resolve(registry.States(), time.Now()))

	mon := monitor.New(registry, state, monitor.Config{
		PollInterval: cfg.Monitor.PollInterval,
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
		MinQuality:   cfg.Monitor.MinQuality,
	})
	mon.SetLogger(log.Component("monitor"))

	// Observers are registered ahead of the monitor, whose Init runs the
	// first poll.
	var (
		workers   []worker.Worker
		announcer *telemetry.Announcer
	)
	if mqttClient != nil {
		announcer = telemetry.NewAnnouncer(mqttClient)
		announcer.SetLogger(log.Component("announcer"))
		mon.AddObserver(announcer)
		workers = append(workers, announcer)
	}
	if influxClient != nil {
		mon.AddObserver(telemetry.NewRecorder(influxClient))
	}
	workers = append(workers, mon)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	dispatcher := worker.NewDispatcher()
	dispatcher.SetLogger(log.Component("dispatcher"))
	defer func() {
		cancel()
		dispatcher.Wait()
	}()
	if err := dispatcher.Register(workers...); err != nil {
		return fmt.Errorf("registering workers: %w", err)
	}
	// Launch returns once the monitor's first poll is published, so neither
	// the status API nor the listener can serve the pre-probe election.
	if err := dispatcher.Launch(gctx); err != nil {
		return fmt.Errorf("launching workers: %w", err)
	}
	log.Logf(slog.LevelInfo, "Acquired PIP: %s", providerName(state.Current()))

	lnCfg, err := listenerConfig(cfg.Listener)
	if err != nil {
		return err
	}
	ln := listener.New(lnCfg, state)
	ln.SetLogger(log.Component("listener"))

	// Start the status API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			Logger:     log.Component("api"),
			State:      state,
			Devices:    registry,
			Workers:    dispatcher,
			Components: make(map[string]api.HealthChecker, len(components)),
			Listener:   ln,
			Version:    version,
		}
		for _, c := range components {
			deps.Components[c.name] = c.checker
		}
		if announcer != nil {
			deps.Announcer = announcer
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr := srv.Start(gctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		if apiErr := srv.HealthCheck(gctx); apiErr != nil {
			return fmt.Errorf("health check failed: api: %w", apiErr)
		}
	}

	if err := ln.Listen(); err != nil {
		return fmt.Errorf("sunneed listener encountered a fatal error: %w", err)
	}

	g.Go(func() error {
		if serveErr := ln.Serve(gctx); serveErr != nil {
			return fmt.Errorf("sunneed listener encountered a fatal error: %w", serveErr)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case fatalErr := <-dispatcher.Fatal():
			return fatalErr
		case <-gctx.Done():
			return nil
		}
	})

	log.Info("initialisation complete", "socket", ln.Addr(), "devices", registry.Len())

	if err := g.Wait(); err != nil {
		log.Error("shutting down after fatal error", "error", err)
		return err
	}

	log.Info("sunneed stopped", "connections_served", ln.Served())
	return nil
}

// openDeviceSource returns the configured device source, the database it
// reads from (nil for the file source) and a cleanup func.
func openDeviceSource(ctx context.Context, cfg *config.Config, log *logging.Logger) (device.Source, *database.DB, func(), error) {
	if cfg.Devices.Source != config.DeviceSourceSQLite {
		return device.FileSource{Path: cfg.Devices.File}, nil, func() {}, nil
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}

	applied, err := db.Migrate(ctx, migrations.FS, ".")
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	closeDB := func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}
	return device.NewSQLiteSource(db.DB, cfg.Database.Path), db, closeDB, nil
}

// component is a named infrastructure dependency with a health check.
type component struct {
	name    string
	checker api.HealthChecker
}

// infrastructure lists the enabled infrastructure components in startup
// order. Disabled components are nil and left out.
func infrastructure(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) []component {
	var out []component
	if db != nil {
		out = append(out, component{name: "database", checker: db})
	}
	if mqttClient != nil {
		out = append(out, component{name: "mqtt", checker: mqttClient})
	}
	if influxClient != nil {
		out = append(out, component{name: "influxdb", checker: influxClient})
	}
	return out
}

// healthCheck verifies every enabled infrastructure component.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - components: Components from infrastructure
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, components []component) error {
	for _, c := range components {
		if err := c.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

func listenerConfig(c config.ListenerConfig) (listener.Config, error) {
	mode, err := c.Mode()
	if err != nil {
		return listener.Config{}, fmt.Errorf("listener: %w", err)
	}
	return listener.Config{
		SocketPath:      c.SocketPath,
		SocketMode:      mode,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		MaxRequestBytes: c.MaxRequestBytes,
		MaxConnRate:     c.MaxConnRate,
		ConnBurst:       c.ConnBurst,
	}, nil
}

func providerName(snap *pip.Snapshot) string {
	if !snap.Available {
		return "none"
	}
	return snap.Name
}
