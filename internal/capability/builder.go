package capability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sunneed/sunneed/internal/device"
)

// Logger is the logging interface used by the builder.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Options configures a Builder.
type Options struct {
	// Subscriber feeds sensor devices. Nil disables the sensor kind.
	Subscriber Subscriber

	// GeoIPDatabase is the MaxMind City database used by netgeo devices
	// that do not name their own "database" parameter.
	GeoIPDatabase string

	// WatchGeoIP reloads GeoIP databases when their file changes.
	WatchGeoIP bool

	Logger Logger

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Builder turns device records into capabilities. It implements
// device.Builder and owns any GeoIP databases it opened.
type Builder struct {
	opts Options

	mu    sync.Mutex
	geoip map[string]*GeoIPDB
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Builder{opts: opts, geoip: make(map[string]*GeoIPDB)}
}

// Build returns the capability for rec.Kind.
func (b *Builder) Build(rec device.Record) (device.Capability, error) {
	switch rec.Kind {
	case device.KindManual:
		return NewManual(rec.Params, b.opts.Now)
	case device.KindGPS:
		return NewGPS(rec.Params, b.opts.Now)
	case device.KindNetGeo:
		db, err := b.geoIPFor(rec.Params)
		if err != nil {
			return nil, err
		}
		return NewNetGeo(rec.Params, db, b.opts.Now)
	case device.KindSensor:
		s, err := NewSensor(rec.Name, rec.Params, b.opts.Subscriber, b.opts.Now)
		if err != nil {
			return nil, err
		}
		b.opts.Logger.Info("sensor subscribed", "device", rec.Name, "topic", s.Topic())
		return s, nil
	}
	return nil, fmt.Errorf("%w %q", device.ErrUnknownKind, rec.Kind)
}

func (b *Builder) geoIPFor(p map[string]any) (*GeoIPDB, error) {
	path, err := params(p).string("database")
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = b.opts.GeoIPDatabase
	}
	if path == "" {
		return nil, fmt.Errorf("%w: database (no geoip.database configured)", ErrMissingParam)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if db, ok := b.geoip[path]; ok {
		return db, nil
	}
	db, err := OpenGeoIP(path)
	if err != nil {
		return nil, err
	}
	if b.opts.WatchGeoIP {
		logger := b.opts.Logger
		if err := db.Watch(func(err error) {
			logger.Warn("geoip reload failed", "path", path, "error", err)
		}); err != nil {
			logger.Warn("geoip watch unavailable", "path", path, "error", err)
		}
	}
	b.geoip[path] = db
	b.opts.Logger.Info("geoip database opened", "path", path, "type", db.DatabaseType())
	return db, nil
}

// Close releases every GeoIP database the builder opened.
func (b *Builder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for path, db := range b.geoip {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
		delete(b.geoip, path)
	}
	return errors.Join(errs...)
}
