package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Dispatcher errors.
var (
	// ErrSpawnFailed is returned by Launch when a worker cannot be initialised.
	ErrSpawnFailed = errors.New("worker: spawn failed")

	// ErrAlreadyLaunched is returned when the worker set changes after Launch.
	ErrAlreadyLaunched = errors.New("worker: dispatcher already launched")

	// ErrPanicked is recorded as the last error of a worker that panicked.
	ErrPanicked = errors.New("worker: panicked")
)

// Worker is one background unit of the daemon.
type Worker interface {
	// Name identifies the worker in logs and stats.
	Name() string

	// Init prepares the worker. It runs before any worker is started.
	Init(ctx context.Context) error

	// Run blocks until ctx is cancelled or the worker fails.
	Run(ctx context.Context) error
}

// Status represents the current state of a worker.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusFailed  Status = "failed"
)

// Logger defines the logging interface for the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// slot tracks one registered worker.
type slot struct {
	w         Worker
	status    Status
	startTime time.Time
	lastError error
}

// Dispatcher launches and tracks a fixed set of workers.
type Dispatcher struct {
	logger Logger

	mu       sync.RWMutex
	slots    []*slot
	launched bool

	fatal chan error
	wg    sync.WaitGroup
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{logger: noopLogger{}}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// Register appends workers in launch order.
func (d *Dispatcher) Register(workers ...Worker) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.launched {
		return ErrAlreadyLaunched
	}
	for _, w := range workers {
		if w == nil {
			return fmt.Errorf("worker: nil worker at position %d", len(d.slots))
		}
		d.slots = append(d.slots, &slot{w: w, status: StatusPending})
	}
	return nil
}

// Launch initialises every worker in registration order, then starts them.
//
// Parameters:
//   - ctx: Lifetime of the workers; cancelling it stops them
//
// Returns:
//   - error: ErrSpawnFailed wrapping the first Init failure (no worker is
//     started in that case), or ErrAlreadyLaunched
func (d *Dispatcher) Launch(ctx context.Context) error {
	d.mu.Lock()
	if d.launched {
		d.mu.Unlock()
		return ErrAlreadyLaunched
	}
	d.launched = true
	slots := d.slots
	d.fatal = make(chan error, len(slots))
	d.mu.Unlock()

	d.logger.Info(fmt.Sprintf("Launching %d worker threads", len(slots)))

	for _, s := range slots {
		if err := s.w.Init(ctx); err != nil {
			d.mu.Lock()
			s.status = StatusFailed
			s.lastError = err
			d.mu.Unlock()
			d.logger.Error("worker init failed", "worker", s.w.Name(), "error", err)
			return fmt.Errorf("%w: %s: %w", ErrSpawnFailed, s.w.Name(), err)
		}
	}

	for _, s := range slots {
		d.mu.Lock()
		s.status = StatusRunning
		s.startTime = time.Now()
		d.mu.Unlock()

		d.wg.Add(1)
		go d.run(ctx, s)
		d.logger.Debug("worker started", "worker", s.w.Name())
	}
	return nil
}

// run executes one worker and records how it ended.
func (d *Dispatcher) run(ctx context.Context, s *slot) {
	defer d.wg.Done()

	name := s.w.Name()
	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			s.status = StatusFailed
			s.lastError = fmt.Errorf("%w: %v", ErrPanicked, r)
			d.mu.Unlock()
			d.logger.Error("worker panicked, not restarting",
				"worker", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	err := s.w.Run(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.status = StatusStopped
		d.logger.Info("worker stopped", "worker", name)
		return
	}

	s.status = StatusFailed
	s.lastError = err
	d.logger.Error("worker failed", "worker", name, "error", err)
	d.fatal <- fmt.Errorf("worker %s: %w", name, err)
}

// Fatal delivers errors from workers that stopped on their own.
// It is nil before Launch.
func (d *Dispatcher) Fatal() <-chan error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fatal
}

// Wait blocks until every launched worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats contains a snapshot of one worker.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of every worker in registration order.
func (d *Dispatcher) Stats() []Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Stats, 0, len(d.slots))
	for _, s := range d.slots {
		st := Stats{Name: s.w.Name(), Status: s.status}
		if s.status == StatusRunning {
			st.Uptime = time.Since(s.startTime)
		}
		if s.lastError != nil {
			st.LastError = s.lastError.Error()
		}
		out = append(out, st)
	}
	return out
}
