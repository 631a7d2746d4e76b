package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/sunneed/sunneed/internal/device"
)

// Manual reports a fixed, operator-entered position. It is always available.
type Manual struct {
	coords  device.Coordinates
	quality float64
	now     func() time.Time
}

// NewManual builds a Manual capability from latitude, longitude and the
// optional elevation and quality (default 1) parameters.
func NewManual(p map[string]any, now func() time.Time) (*Manual, error) {
	pp := params(p)

	lat, err := pp.requireFloat("latitude")
	if err != nil {
		return nil, err
	}
	lon, err := pp.requireFloat("longitude")
	if err != nil {
		return nil, err
	}
	coords := device.Coordinates{Latitude: lat, Longitude: lon}

	if elev, ok, err := pp.float("elevation"); err != nil {
		return nil, err
	} else if ok {
		coords.Elevation = &elev
	}
	if err := coords.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
	}

	quality := 1.0
	if q, ok, err := pp.float("quality"); err != nil {
		return nil, err
	} else if ok {
		if q < 0 || q > 1 {
			return nil, fmt.Errorf("%w: quality %v outside [0, 1]", ErrInvalidParam, q)
		}
		quality = q
	}

	return &Manual{coords: coords, quality: quality, now: now}, nil
}

// Probe returns the configured position.
func (m *Manual) Probe(ctx context.Context) (device.Reading, error) {
	if err := ctx.Err(); err != nil {
		return device.Reading{}, err
	}
	return device.Reading{Coordinates: m.coords, Quality: m.quality, At: m.now()}, nil
}
