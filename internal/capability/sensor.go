package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sunneed/sunneed/internal/device"
	"github.com/sunneed/sunneed/internal/infrastructure/mqtt"
)

// defaultSensorMaxAge is how long a sensor reading stays usable.
const defaultSensorMaxAge = 30 * time.Second

// Subscriber is the part of the MQTT client a sensor needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// sensorPayload is the JSON document a sensor publishes.
type sensorPayload struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Elevation *float64   `json:"elevation,omitempty"`
	Quality   *float64   `json:"quality,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Sensor keeps the latest position pushed to an MQTT topic.
type Sensor struct {
	topic  string
	maxAge time.Duration
	now    func() time.Time

	mu     sync.Mutex
	latest *device.Reading
}

// NewSensor builds a Sensor for device name and subscribes it.
//
// Parameters "topic" (default sunneed/sensor/<name>/position) and
// "max_age" (default 30s) are optional.
func NewSensor(name string, p map[string]any, sub Subscriber, now func() time.Time) (*Sensor, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: sensor devices require mqtt.enabled", ErrInvalidParam)
	}
	pp := params(p)

	topic, err := pp.string("topic")
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = mqtt.Topics{}.SensorPosition(name)
	}
	maxAge, err := pp.duration("max_age", defaultSensorMaxAge)
	if err != nil {
		return nil, err
	}

	s := &Sensor{topic: topic, maxAge: maxAge, now: now}
	if err := sub.Subscribe(topic, 1, s.handle); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return s, nil
}

// Topic returns the feed topic.
func (s *Sensor) Topic() string {
	return s.topic
}

// handle decodes one feed message. Malformed messages are rejected and do
// not replace the previous reading.
func (s *Sensor) handle(_ string, payload []byte) error {
	var msg sensorPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding sensor payload: %w", err)
	}
	if msg.Latitude == nil || msg.Longitude == nil {
		return fmt.Errorf("sensor payload missing latitude or longitude")
	}

	reading := device.Reading{
		Coordinates: device.Coordinates{
			Latitude:  *msg.Latitude,
			Longitude: *msg.Longitude,
			Elevation: msg.Elevation,
		},
		Quality: 1,
		At:      s.now(),
	}
	if err := reading.Coordinates.Validate(); err != nil {
		return fmt.Errorf("sensor payload: %w", err)
	}
	if msg.Quality != nil {
		reading.Quality = clamp01(*msg.Quality)
	}
	if msg.Timestamp != nil && !msg.Timestamp.IsZero() {
		reading.At = *msg.Timestamp
	}

	s.mu.Lock()
	s.latest = &reading
	s.mu.Unlock()
	return nil
}

// Probe returns the latest reading if it is younger than max_age.
// No reading, or a stale one, yields device.ErrNoSignal.
func (s *Sensor) Probe(ctx context.Context) (device.Reading, error) {
	if err := ctx.Err(); err != nil {
		return device.Reading{}, err
	}

	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()

	if latest == nil {
		return device.Reading{}, fmt.Errorf("nothing received on %s: %w", s.topic, device.ErrNoSignal)
	}
	if age := s.now().Sub(latest.At); age > s.maxAge {
		return device.Reading{}, fmt.Errorf("last reading on %s is %v old: %w", s.topic, age.Round(time.Second), device.ErrNoSignal)
	}
	return *latest, nil
}
