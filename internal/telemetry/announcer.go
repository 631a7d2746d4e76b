package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sunneed/sunneed/internal/device"
	"github.com/sunneed/sunneed/internal/infrastructure/mqtt"
	"github.com/sunneed/sunneed/internal/pip"
)

// announceQueueSize bounds pending announcements before new ones are dropped.
const announceQueueSize = 64

// Publisher is the part of the MQTT client the announcer needs.
type Publisher interface {
	PublishRetainedJSON(topic string, v any) error
}

// Logger defines the logging interface used by the telemetry sinks.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// DeviceMessage is published retained on sunneed/device/{id}/status.
type DeviceMessage struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Kind      device.Kind   `json:"kind"`
	Status    device.Status `json:"status"`
	Previous  device.Status `json:"previous"`
	Quality   float64       `json:"quality"`
	LastSeen  time.Time     `json:"last_seen,omitzero"`
	LastError string        `json:"last_error,omitempty"`
}

// ElectionMessage is published retained on sunneed/pip/current.
type ElectionMessage struct {
	Available  bool        `json:"available"`
	DeviceID   int         `json:"device_id,omitempty"`
	Name       string      `json:"name,omitempty"`
	Kind       device.Kind `json:"kind,omitempty"`
	Quality    float64     `json:"quality"`
	ResolvedAt time.Time   `json:"resolved_at"`
}

type announcement struct {
	topic   string
	payload any
}

// Announcer publishes monitor events to MQTT. It implements
// monitor.Observer and the worker interface.
type Announcer struct {
	pub    Publisher
	logger Logger
	topics mqtt.Topics
	queue  chan announcement

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewAnnouncer creates an Announcer publishing through pub.
func NewAnnouncer(pub Publisher) *Announcer {
	return &Announcer{
		pub:    pub,
		logger: noopLogger{},
		queue:  make(chan announcement, announceQueueSize),
	}
}

// SetLogger sets the logger for the announcer.
func (a *Announcer) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	a.logger = logger
}

// DeviceChanged queues a device status message.
func (a *Announcer) DeviceChanged(t device.Transition) {
	d := t.After
	a.enqueue(a.topics.DeviceStatus(d.ID), DeviceMessage{
		ID:        d.ID,
		Name:      d.Name,
		Kind:      d.Kind,
		Status:    d.Status,
		Previous:  t.Before.Status,
		Quality:   d.Quality,
		LastSeen:  d.LastSeen,
		LastError: d.LastError,
	})
}

// Elected queues an election message.
func (a *Announcer) Elected(snap *pip.Snapshot) {
	a.enqueue(a.topics.PIPCurrent(), electionMessage(snap))
}

func electionMessage(snap *pip.Snapshot) ElectionMessage {
	return ElectionMessage{
		Available:  snap.Available,
		DeviceID:   snap.DeviceID,
		Name:       snap.Name,
		Kind:       snap.Kind,
		Quality:    snap.Quality,
		ResolvedAt: snap.ResolvedAt,
	}
}

func (a *Announcer) enqueue(topic string, payload any) {
	select {
	case a.queue <- announcement{topic: topic, payload: payload}:
	default:
		a.dropped.Add(1)
		a.logger.Warn("announcement queue full, dropping", "topic", topic)
	}
}

// Name identifies the worker.
func (a *Announcer) Name() string {
	return "announcer"
}

// Init has nothing to prepare; the broker connection is owned by the caller.
func (a *Announcer) Init(context.Context) error {
	return nil
}

// Run publishes queued announcements until ctx is cancelled. Publish
// failures are logged and the message is dropped; the next transition
// supersedes it anyway since every topic is retained.
func (a *Announcer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-a.queue:
			if err := a.pub.PublishRetainedJSON(m.topic, m.payload); err != nil {
				a.logger.Warn("mqtt announcement failed", "topic", m.topic, "error", err)
				continue
			}
			a.published.Add(1)
			a.logger.Debug("announced", "topic", m.topic)
		}
	}
}

// Published returns the number of messages published.
func (a *Announcer) Published() uint64 {
	return a.published.Load()
}

// Dropped returns the number of messages dropped on a full queue.
func (a *Announcer) Dropped() uint64 {
	return a.dropped.Load()
}
