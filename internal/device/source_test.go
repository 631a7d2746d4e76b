package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sunneed/sunneed/internal/infrastructure/database"
	"github.com/sunneed/sunneed/migrations"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write device file: %v", err)
	}
	return path
}

func TestFileSource(t *testing.T) {
	path := writeFile(t, `
devices:
  - id: 1
    name: roof-gps
    kind: gps
    priority: 100
    params:
      path: /dev/ttyUSB0
      baud: 9600
  - id: 2
    kind: manual
    priority: 10
    status: active
    params:
      latitude: 51.4779
      longitude: -0.0015
`)

	recs, err := FileSource{Path: path}.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Devices() returned %d records, want 2", len(recs))
	}
	if recs[0].Kind != KindGPS || recs[0].Params["path"] != "/dev/ttyUSB0" {
		t.Errorf("record 0 = %+v", recs[0])
	}
	if recs[1].Status != "active" || recs[1].Params["latitude"] != 51.4779 {
		t.Errorf("record 1 = %+v", recs[1])
	}
}

func TestFileSource_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"malformed yaml", "devices: [id: 1", ErrConfig},
		{"unknown field", "devices:\n  - id: 1\n    kind: gps\n    colour: red\n", ErrConfig},
		{"wrong type", "devices:\n  - id: one\n    kind: gps\n", ErrConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FileSource{Path: writeFile(t, tt.content)}.Devices(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("Devices() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := (FileSource{Path: "/nonexistent/devices.yaml"}).Devices(context.Background()); err == nil {
		t.Error("Devices() on missing file expected error, got nil")
	}
}

func TestFileSource_Empty(t *testing.T) {
	recs, err := FileSource{Path: writeFile(t, "")}.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Devices() = %v, want none", recs)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeFile(t, `
devices:
  - {id: 1, kind: gps, priority: 2}
  - {id: 1, kind: manual, priority: 1}
`)
	_, err := Load(context.Background(), FileSource{Path: path}, newFakeBuilder(), nil)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("Load() error = %v, want ErrDuplicateID", err)
	}

	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Source != "file:"+path {
		t.Errorf("LoadError.Source = %v, want file:%s", loadErr, path)
	}
}

// openInventory creates a migrated database and returns a source over it.
func openInventory(t *testing.T) *SQLiteSource {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "sunneed.db")
	db, err := database.Open(ctx, database.Config{Path: path, WALMode: true, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteSource(db.DB, path)
}

func TestSQLiteSource(t *testing.T) {
	src := openInventory(t)
	ctx := context.Background()

	seed := []Record{
		{ID: 3, Name: "mast", Kind: KindSensor, Priority: 3, Params: map[string]any{"topic": "weather/mast"}},
		{ID: 1, Name: "roof-gps", Kind: KindGPS, Priority: 2, Status: "active"},
		{ID: 2, Kind: KindManual, Priority: 1},
	}
	for _, rec := range seed {
		if err := src.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if _, err := src.DB.ExecContext(ctx, "UPDATE devices SET enabled = 0 WHERE id = 2"); err != nil {
		t.Fatalf("disabling device: %v", err)
	}

	recs, err := src.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Devices() returned %d records, want 2 enabled", len(recs))
	}
	if recs[0].ID != 1 || recs[1].ID != 3 {
		t.Errorf("Devices() order = %d,%d; want 1,3", recs[0].ID, recs[1].ID)
	}
	if recs[0].Status != "active" || recs[1].Status != "" {
		t.Errorf("statuses = %q,%q; want active and empty", recs[0].Status, recs[1].Status)
	}
	if recs[1].Params["topic"] != "weather/mast" {
		t.Errorf("params = %v, want topic weather/mast", recs[1].Params)
	}

	r, err := Load(ctx, src, newFakeBuilder(), nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestSQLiteSource_BadParams(t *testing.T) {
	src := openInventory(t)
	ctx := context.Background()

	if _, err := src.DB.ExecContext(ctx,
		"INSERT INTO devices (id, kind, params) VALUES (1, 'manual', 'not json')",
	); err != nil {
		t.Fatalf("insert error = %v", err)
	}

	if _, err := src.Devices(ctx); !errors.Is(err, ErrConfig) {
		t.Errorf("Devices() error = %v, want ErrConfig", err)
	}
}
