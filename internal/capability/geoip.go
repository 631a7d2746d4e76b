package capability

import (
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/oschwald/maxminddb-golang"
)

// geoRecord holds the fields decoded from a GeoIP2/GeoLite2 City database.
type geoRecord struct {
	Location struct {
		Latitude       float64 `maxminddb:"latitude"`
		Longitude      float64 `maxminddb:"longitude"`
		AccuracyRadius uint16  `maxminddb:"accuracy_radius"`
	} `maxminddb:"location"`
}

// GeoIPDB is a MaxMind database shared by every netgeo device naming the
// same file. The reader is replaced when the file is rewritten.
type GeoIPDB struct {
	path string

	// rw guards reader; a reader is never closed while a lookup holds it.
	rw     sync.RWMutex
	reader *maxminddb.Reader

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// OpenGeoIP opens the database at path.
func OpenGeoIP(path string) (*GeoIPDB, error) {
	db := &GeoIPDB{path: filepath.Clean(path)}
	if err := db.reload(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *GeoIPDB) reload() error {
	r, err := maxminddb.Open(db.path)
	if err != nil {
		return fmt.Errorf("open mmdb %q: %w", db.path, err)
	}

	db.rw.Lock()
	old := db.reader
	db.reader = r
	db.rw.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// DatabaseType returns the type recorded in the database metadata.
func (db *GeoIPDB) DatabaseType() string {
	db.rw.RLock()
	defer db.rw.RUnlock()
	if db.reader == nil {
		return ""
	}
	return db.reader.Metadata.DatabaseType
}

// Lookup returns the location recorded for ip. found is false when the
// database has no entry or the entry carries no location.
func (db *GeoIPDB) Lookup(ip net.IP) (rec geoRecord, found bool, err error) {
	db.rw.RLock()
	defer db.rw.RUnlock()

	if db.reader == nil {
		return rec, false, fmt.Errorf("mmdb %q is closed", db.path)
	}
	_, ok, err := db.reader.LookupNetwork(ip, &rec)
	if err != nil {
		return rec, false, fmt.Errorf("mmdb lookup %s: %w", ip, err)
	}
	if !ok || (rec.Location.Latitude == 0 && rec.Location.Longitude == 0 && rec.Location.AccuracyRadius == 0) {
		return rec, false, nil
	}
	return rec, true, nil
}

// Watch reloads the database whenever the file is rewritten or replaced.
// The parent directory is watched so rename-into-place updates are seen.
// Reload failures keep the previous reader and are passed to onError.
func (db *GeoIPDB) Watch(onError func(error)) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(db.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	db.watcher = w
	db.watchDone = make(chan struct{})
	go db.watchLoop(w, db.watchDone, onError)
	return nil
}

func (db *GeoIPDB) watchLoop(w *fsnotify.Watcher, done chan struct{}, onError func(error)) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != db.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := db.reload(); err != nil && onError != nil {
				onError(err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// Close stops watching and closes the reader.
func (db *GeoIPDB) Close() error {
	db.mu.Lock()
	if db.watcher != nil {
		_ = db.watcher.Close()
		<-db.watchDone
		db.watcher = nil
	}
	db.mu.Unlock()

	db.rw.Lock()
	r := db.reader
	db.reader = nil
	db.rw.Unlock()

	if r != nil {
		return r.Close()
	}
	return nil
}
