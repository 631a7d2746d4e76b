package capability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/sunneed/sunneed/internal/device"
)

// maxSentencesPerProbe bounds how many lines a single probe will scan
// looking for a GGA fix.
const maxSentencesPerProbe = 64

// GPS reads NMEA 0183 sentences from a serial device or file and reports
// the first GGA fix it sees.
type GPS struct {
	path string
	now  func() time.Time
}

// NewGPS builds a GPS capability from the "path" parameter.
func NewGPS(p map[string]any, now func() time.Time) (*GPS, error) {
	path, err := params(p).requireString("path")
	if err != nil {
		return nil, err
	}
	return &GPS{path: path, now: now}, nil
}

// Probe opens the device, scans for a GGA sentence and closes it again.
//
// A GGA sentence with fix quality 0 yields device.ErrNoSignal, as does a
// stream with no GGA sentence at all.
func (g *GPS) Probe(ctx context.Context) (device.Reading, error) {
	f, err := os.Open(g.path)
	if err != nil {
		return device.Reading{}, fmt.Errorf("opening %s: %w", g.path, err)
	}
	defer f.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = f.SetReadDeadline(deadline) //nolint:errcheck // Regular files do not support deadlines
	}
	stop := context.AfterFunc(ctx, func() { f.Close() })
	defer stop()

	scanner := bufio.NewScanner(f)
	for i := 0; i < maxSentencesPerProbe && scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}
		gga, ok := sentence.(nmea.GGA)
		if !ok {
			continue
		}
		return g.reading(gga)
	}

	if err := ctx.Err(); err != nil {
		return device.Reading{}, err
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		return device.Reading{}, fmt.Errorf("reading %s: %w", g.path, err)
	}
	return device.Reading{}, fmt.Errorf("no GGA sentence from %s: %w", g.path, device.ErrNoSignal)
}

func (g *GPS) reading(gga nmea.GGA) (device.Reading, error) {
	if gga.FixQuality == "" || gga.FixQuality == nmea.Invalid {
		return device.Reading{}, fmt.Errorf("no fix (%d satellites): %w", gga.NumSatellites, device.ErrNoSignal)
	}

	alt := gga.Altitude
	return device.Reading{
		Coordinates: device.Coordinates{
			Latitude:  gga.Latitude,
			Longitude: gga.Longitude,
			Elevation: &alt,
		},
		Quality: hdopQuality(gga.HDOP),
		At:      g.now(),
	}, nil
}

// hdopQuality maps horizontal dilution of precision to [0, 1].
// HDOP 1 or better is ideal; unreported HDOP counts as middling.
func hdopQuality(hdop float64) float64 {
	if hdop <= 0 {
		return 0.5
	}
	return clamp01(1 / hdop)
}
