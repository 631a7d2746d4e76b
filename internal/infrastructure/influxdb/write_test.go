package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

func TestDevicePoint(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	p := DevicePoint(DeviceSample{
		DeviceID: 3,
		Name:     "roof-gps",
		Kind:     "gps",
		Status:   "degraded",
		Quality:  0.25,
		Err:      "no fix",
		At:       at,
	})

	line := write.PointToLineProtocol(p, time.Second)

	for _, want := range []string{
		"device_status,",
		"device_id=3",
		"kind=gps",
		"name=roof-gps",
		"status=degraded",
		"quality=0.25",
		"active=false",
		`error="no fix"`,
		" 1700000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
	for _, banned := range []string{"latitude", "longitude"} {
		if strings.Contains(line, banned) {
			t.Errorf("line protocol %q must not contain %q", line, banned)
		}
	}
}

func TestElectionPoint(t *testing.T) {
	at := time.Unix(1_700_000_100, 0)

	t.Run("available", func(t *testing.T) {
		line := write.PointToLineProtocol(ElectionPoint(Election{
			Available: true,
			DeviceID:  2,
			Name:      "manual",
			Kind:      "manual",
			Quality:   1,
			At:        at,
		}), time.Second)

		for _, want := range []string{"pip_election,", "available=true", "device_id=2", `name="manual"`} {
			if !strings.Contains(line, want) {
				t.Errorf("line protocol %q missing %q", line, want)
			}
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		line := write.PointToLineProtocol(ElectionPoint(Election{At: at}), time.Second)

		if !strings.Contains(line, "available=false") {
			t.Errorf("line protocol %q missing available=false", line)
		}
		if strings.Contains(line, "device_id") {
			t.Errorf("unavailable election should carry no device: %q", line)
		}
	})
}
