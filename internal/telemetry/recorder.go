package telemetry

import (
	"time"

	"github.com/sunneed/sunneed/internal/device"
	"github.com/sunneed/sunneed/internal/infrastructure/influxdb"
	"github.com/sunneed/sunneed/internal/pip"
)

// timeNow is replaced in tests.
var timeNow = time.Now

// PointWriter is the part of the InfluxDB client the recorder needs.
type PointWriter interface {
	WriteDeviceSample(s influxdb.DeviceSample)
	WriteElection(e influxdb.Election)
}

// Recorder writes monitor events to InfluxDB. It implements monitor.Observer.
type Recorder struct {
	w PointWriter
}

// NewRecorder creates a Recorder writing through w.
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{w: w}
}

// DeviceChanged records the device's new health.
func (r *Recorder) DeviceChanged(t device.Transition) {
	d := t.After
	at := d.LastSeen
	if at.IsZero() || t.StatusChanged() {
		at = timeNow()
	}
	r.w.WriteDeviceSample(influxdb.DeviceSample{
		DeviceID: d.ID,
		Name:     d.Name,
		Kind:     string(d.Kind),
		Status:   string(d.Status),
		Quality:  d.Quality,
		Err:      d.LastError,
		At:       at,
	})
}

// Elected records the election.
func (r *Recorder) Elected(snap *pip.Snapshot) {
	r.w.WriteElection(influxdb.Election{
		Available: snap.Available,
		DeviceID:  snap.DeviceID,
		Name:      snap.Name,
		Kind:      string(snap.Kind),
		Quality:   snap.Quality,
		At:        snap.ResolvedAt,
	})
}
