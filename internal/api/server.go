package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sunneed/sunneed/internal/device"
	"github.com/sunneed/sunneed/internal/infrastructure/config"
	"github.com/sunneed/sunneed/internal/infrastructure/logging"
	"github.com/sunneed/sunneed/internal/pip"
	"github.com/sunneed/sunneed/internal/worker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultStreamInterval is how often the position stream polls for a new
// generation when the configuration leaves it unset.
const defaultStreamInterval = time.Second

// componentCheckTimeout bounds each component check made by /health.
const componentCheckTimeout = 2 * time.Second

// PositionSource is the shared position state. *pip.State implements it.
type PositionSource interface {
	Current() *pip.Snapshot
	Generation() uint64
}

// DeviceSource exposes registry states. *device.Registry implements it.
type DeviceSource interface {
	States() []device.State
	Lookup(id int) (device.State, bool)
}

// WorkerSource exposes dispatcher stats. *worker.Dispatcher implements it.
type WorkerSource interface {
	Stats() []worker.Stats
}

// HealthChecker is an infrastructure component reported by /health.
// The database, MQTT and InfluxDB clients implement it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ListenerStats exposes socket listener counters. *listener.Listener
// implements it.
type ListenerStats interface {
	Served() uint64
	Failed() uint64
}

// AnnouncerStats exposes MQTT announcement counters.
// *telemetry.Announcer implements it.
type AnnouncerStats interface {
	Published() uint64
	Dropped() uint64
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	State      PositionSource
	Devices    DeviceSource
	Workers    WorkerSource             // optional
	Components map[string]HealthChecker // optional, keyed by component name
	Listener   ListenerStats            // optional
	Announcer  AnnouncerStats           // optional
	Version    string
}

// Server is the local HTTP status server.
//
// It manages the Unix socket listener, routes, middleware, and the position
// stream hub. The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	state   PositionSource
	devices DeviceSource
	workers WorkerSource
	version string
	started time.Time

	components map[string]HealthChecker
	listener   ListenerStats
	announcer  AnnouncerStats

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, state, devices)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("position state is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	s := &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		state:   deps.State,
		devices: deps.Devices,
		workers: deps.Workers,
		version: deps.Version,
		started: time.Now(),

		components: deps.Components,
		listener:   deps.Listener,
		announcer:  deps.Announcer,
	}
	s.hub = NewHub(deps.Logger)
	return s, nil
}

// Handler returns the HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the Unix socket and serves in a background goroutine.
// It also starts the position stream watcher.
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the socket cannot be bound
func (s *Server) Start(ctx context.Context) error {
	ln, err := listenUnix(s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	interval := s.cfg.StreamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	go s.hub.Run(srvCtx)
	go s.watchPosition(srvCtx, interval)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.logger.Info("API server starting", "socket", s.cfg.SocketPath)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// listenUnix binds path, replacing a leftover socket file.
func listenUnix(path string) (net.Listener, error) {
	if path == "" {
		return nil, fmt.Errorf("no socket path configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o660); err != nil {
		_ = ln.Close()
		return nil, err
	}
	return ln, nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Stop the hub and watcher; this also closes stream connections,
	// which Shutdown does not track.
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	<-s.done
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

func (s *Server) workerStats() []worker.Stats {
	if s.workers == nil {
		return []worker.Stats{}
	}
	return s.workers.Stats()
}

// componentHealth runs every component check. It returns "ok" or the error
// text per component and whether all of them passed.
func (s *Server) componentHealth(ctx context.Context) (map[string]string, bool) {
	out := make(map[string]string, len(s.components))
	healthy := true
	for name, c := range s.components {
		checkCtx, cancel := context.WithTimeout(ctx, componentCheckTimeout)
		err := c.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			out[name] = err.Error()
			healthy = false
			continue
		}
		out[name] = "ok"
	}
	return out, healthy
}
