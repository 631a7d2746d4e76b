package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the daemon.
const (
	MeasurementDeviceStatus = "device_status"
	MeasurementElection     = "pip_election"
)

// DeviceSample is one probe outcome for one device.
// Coordinates are never recorded.
type DeviceSample struct {
	DeviceID int
	Name     string
	Kind     string
	Status   string
	Quality  float64
	Err      string
	At       time.Time
}

// Election records which device the resolver picked.
type Election struct {
	Available bool
	DeviceID  int
	Name      string
	Kind      string
	Quality   float64
	At        time.Time
}

// DevicePoint builds the device_status point for s.
func DevicePoint(s DeviceSample) *write.Point {
	fields := map[string]interface{}{
		"quality": s.Quality,
		"active":  s.Status == "active",
	}
	if s.Err != "" {
		fields["error"] = s.Err
	}

	return write.NewPoint(
		MeasurementDeviceStatus,
		map[string]string{
			"device_id": strconv.Itoa(s.DeviceID),
			"name":      s.Name,
			"kind":      s.Kind,
			"status":    s.Status,
		},
		fields,
		s.At,
	)
}

// ElectionPoint builds the pip_election point for e.
func ElectionPoint(e Election) *write.Point {
	tags := map[string]string{"available": strconv.FormatBool(e.Available)}
	fields := map[string]interface{}{"available": e.Available}
	if e.Available {
		tags["device_id"] = strconv.Itoa(e.DeviceID)
		tags["kind"] = e.Kind
		fields["name"] = e.Name
		fields["quality"] = e.Quality
	}
	return write.NewPoint(MeasurementElection, tags, fields, e.At)
}

// WriteDeviceSample queues a device_status point. Dropped when closed.
func (c *Client) WriteDeviceSample(s DeviceSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(DevicePoint(s))
}

// WriteElection queues a pip_election point. Dropped when closed.
func (c *Client) WriteElection(e Election) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ElectionPoint(e))
}
