package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sunneed/sunneed/internal/device"
	"github.com/sunneed/sunneed/internal/pip"
)

// Phase is the monitor's position in its state machine.
type Phase string

// Monitor phases.
const (
	PhaseInit    Phase = "init"
	PhasePoll    Phase = "poll"
	PhaseResolve Phase = "resolve"
	PhasePublish Phase = "publish"
	PhaseSleep   Phase = "sleep"
	PhaseStopped Phase = "stopped"
)

// Default timings applied for zero Config values.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultProbeTimeout = 2 * time.Second
)

// Registry is the subset of *device.Registry the monitor drives.
type Registry interface {
	Len() int
	States() []device.State
	Probe(ctx context.Context, i int) (device.Reading, error)
	Update(i int, obs device.Observation) (device.Transition, error)
	Verify() error
}

// Observer is told about what the monitor sees. Calls are made from Init
// and then from the monitor goroutine, never concurrently, and must not block.
type Observer interface {
	// DeviceChanged is called when a device's status or reading moved.
	DeviceChanged(t device.Transition)

	// Elected is called after a new snapshot has been published.
	Elected(snap *pip.Snapshot)
}

// Logger defines the logging interface used by the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds monitor timings and thresholds.
type Config struct {
	// PollInterval is the sleep between two polls.
	PollInterval time.Duration

	// ProbeTimeout bounds each device probe.
	ProbeTimeout time.Duration

	// MinQuality is the lowest reading quality recorded as active.
	MinQuality float64
}

// Monitor is the background worker that re-evaluates devices and publishes
// elections. It implements the worker interface (Name, Init, Run).
type Monitor struct {
	reg   Registry
	state *pip.State
	cfg   Config
	now   func() time.Time

	mu        sync.RWMutex
	logger    Logger
	observers []Observer

	phase atomic.Value
	polls atomic.Uint64

	// primed is set by Init once the first poll has been published.
	primed bool
}

// New creates a Monitor that drives reg and publishes into state.
func New(reg Registry, state *pip.State, cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	m := &Monitor{
		reg:    reg,
		state:  state,
		cfg:    cfg,
		now:    time.Now,
		logger: noopLogger{},
	}
	m.phase.Store(PhaseInit)
	return m
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// AddObserver registers o. Must be called before Run.
func (m *Monitor) AddObserver(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Name identifies the worker.
func (m *Monitor) Name() string {
	return "monitor"
}

// Phase returns the current state machine phase.
func (m *Monitor) Phase() Phase {
	return m.phase.Load().(Phase) //nolint:forcetypeassert // only Phase values are stored
}

// Polls returns the number of completed polls.
func (m *Monitor) Polls() uint64 {
	return m.polls.Load()
}

// Init checks the registry and runs the first poll synchronously, so the
// shared state holds probed data before any reader is started.
//
// Parameters:
//   - ctx: Bounds the first poll
//
// Returns:
//   - error: Registry corruption, or ctx cancellation during the poll
func (m *Monitor) Init(ctx context.Context) error {
	m.phase.Store(PhaseInit)
	if err := m.reg.Verify(); err != nil {
		return fmt.Errorf("monitor init: %w", err)
	}

	if err := m.cycle(ctx, m.log(), true); err != nil {
		return fmt.Errorf("monitor init: first poll: %w", err)
	}
	m.primed = true
	return nil
}

// Run polls until ctx is cancelled or the registry is found corrupt.
// The first poll happens immediately unless Init already ran it.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.phase.Store(PhaseStopped)

	logger := m.log()
	logger.Info("monitor started",
		"devices", m.reg.Len(),
		"poll_interval", m.cfg.PollInterval,
		"probe_timeout", m.cfg.ProbeTimeout,
	)

	timer := time.NewTimer(m.cfg.PollInterval)
	defer timer.Stop()

	skip := m.primed
	for {
		if !skip {
			if err := m.reg.Verify(); err != nil {
				logger.Error("registry corrupt, stopping monitor", "error", err)
				return err
			}

			if err := m.cycle(ctx, logger, false); err != nil {
				return err
			}
		}
		skip = false

		m.phase.Store(PhaseSleep)
		timer.Reset(m.cfg.PollInterval)
		select {
		case <-ctx.Done():
			logger.Info("monitor stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *Monitor) log() Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// cycle runs one POLL and, when needed, RESOLVE and PUBLISH. The startup
// election is logged by the caller, so a first cycle logs it at debug.
func (m *Monitor) cycle(ctx context.Context, logger Logger, first bool) error {
	m.phase.Store(PhasePoll)
	resolve, err := m.poll(ctx, logger)
	if err != nil {
		return err
	}
	m.polls.Add(1)

	if !resolve {
		return nil
	}

	m.phase.Store(PhaseResolve)
	snap := pip.Resolve(m.reg.States(), m.now())
	prev := m.state.Current()
	if snap.SameSource(prev) {
		return nil
	}

	m.phase.Store(PhasePublish)
	if err := m.state.Publish(snap); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	if first {
		logger.Debug("first poll elected", "available", snap.Available, "device", snap.Name)
	} else {
		m.logElection(logger, prev, snap)
	}

	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()
	for _, o := range observers {
		o.Elected(snap)
	}
	return nil
}

// poll probes every device concurrently, then records the outcomes in
// index order, so a hung device costs the poll one probe timeout rather than
// one per device. It reports whether the election may have changed.
func (m *Monitor) poll(ctx context.Context, logger Logger) (bool, error) {
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()

	results := make([]*device.Observation, m.reg.Len())
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			results[i] = m.observe(ctx, i)
			return nil
		})
	}
	_ = g.Wait() // observe never fails; failures are carried in the Observation

	if err := ctx.Err(); err != nil {
		// Cancelled mid-poll; leave every device as it was.
		return false, err
	}

	resolve := false
	for i, obs := range results {
		tr, err := m.reg.Update(i, *obs)
		if err != nil {
			return false, fmt.Errorf("%w: %w", device.ErrRegistryCorruption, err)
		}

		m.logTransition(logger, tr, obs.Err)

		if tr.StatusChanged() || (tr.After.Status == device.StatusActive &&
			(tr.ReadingChanged() || !tr.Before.LastSeen.Equal(tr.After.LastSeen))) {
			resolve = true
		}
		if tr.StatusChanged() || tr.ReadingChanged() {
			for _, o := range observers {
				o.DeviceChanged(tr)
			}
		}
	}
	return resolve, nil
}

// observe probes device i and turns the result into an Observation.
// It returns nil when ctx was cancelled during the probe.
func (m *Monitor) observe(ctx context.Context, i int) *device.Observation {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	reading, err := m.reg.Probe(probeCtx, i)
	cancel()

	now := m.now()
	switch {
	case err == nil && reading.Quality < m.cfg.MinQuality:
		return &device.Observation{
			Status:  device.StatusDegraded,
			Reading: &reading,
			Err:     fmt.Errorf("quality %.2f below minimum %.2f", reading.Quality, m.cfg.MinQuality),
			At:      now,
		}
	case err == nil:
		return &device.Observation{Status: device.StatusActive, Reading: &reading, At: now}
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, device.ErrNoSignal):
		return &device.Observation{Status: device.StatusInactive, Err: err, At: now}
	default:
		return &device.Observation{Status: device.StatusDegraded, Err: err, At: now}
	}
}

func (m *Monitor) logTransition(logger Logger, tr device.Transition, probeErr error) {
	d := tr.After
	if !tr.StatusChanged() {
		if probeErr != nil {
			logger.Debug("device still not active", "device", d.Name, "status", d.Status, "error", probeErr)
		}
		return
	}

	args := []any{"device", d.Name, "id", d.ID, "from", tr.Before.Status, "to", d.Status}
	switch d.Status {
	case device.StatusDegraded:
		logger.Warn("device degraded", append(args, "error", probeErr)...)
	case device.StatusInactive:
		logger.Info("device inactive", append(args, "reason", probeErr)...)
	default:
		logger.Info("device status changed", args...)
	}
}

func (m *Monitor) logElection(logger Logger, prev, snap *pip.Snapshot) {
	switch {
	case !snap.Available && (prev == nil || prev.Available):
		logger.Warn("no active device, PIP unavailable")
	case snap.Available && (prev == nil || !prev.Available || prev.DeviceID != snap.DeviceID):
		logger.Info(fmt.Sprintf("Acquired PIP: %s", snap.Name), "device_id", snap.DeviceID, "kind", snap.Kind, "quality", snap.Quality)
	default:
		logger.Debug("PIP refreshed", "device", snap.Name, "quality", snap.Quality)
	}
}
