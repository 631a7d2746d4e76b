package capability

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sunneed/sunneed/internal/device"
)

// accuracyScaleKM is the accuracy radius at which a netgeo reading scores 0.5.
const accuracyScaleKM = 50.0

// NetGeo estimates position from a GeoIP City lookup of a configured address,
// typically the site's public IP.
type NetGeo struct {
	ip  net.IP
	db  *GeoIPDB
	now func() time.Time
}

// NewNetGeo builds a NetGeo capability for the "ip" parameter.
func NewNetGeo(p map[string]any, db *GeoIPDB, now func() time.Time) (*NetGeo, error) {
	raw, err := params(p).requireString("ip")
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return nil, fmt.Errorf("%w: ip %q is not an IP address", ErrInvalidParam, raw)
	}
	return &NetGeo{ip: ip, db: db, now: now}, nil
}

// Probe looks the address up. An address with no location yields
// device.ErrNoSignal.
func (n *NetGeo) Probe(ctx context.Context) (device.Reading, error) {
	if err := ctx.Err(); err != nil {
		return device.Reading{}, err
	}

	rec, found, err := n.db.Lookup(n.ip)
	if err != nil {
		return device.Reading{}, err
	}
	if !found {
		return device.Reading{}, fmt.Errorf("no location for %s: %w", n.ip, device.ErrNoSignal)
	}

	return device.Reading{
		Coordinates: device.Coordinates{
			Latitude:  rec.Location.Latitude,
			Longitude: rec.Location.Longitude,
		},
		Quality: radiusQuality(rec.Location.AccuracyRadius),
		At:      n.now(),
	}, nil
}

// radiusQuality maps an accuracy radius in km to [0, 1]. An unreported
// radius scores low since city-level GeoIP is coarse at best.
func radiusQuality(radiusKM uint16) float64 {
	if radiusKM == 0 {
		return 0.2
	}
	return clamp01(1 / (1 + float64(radiusKM)/accuracyScaleKM))
}
