package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLiteSource reads enabled rows of the devices table.
// The schema is created by the embedded migrations.
type SQLiteSource struct {
	DB   *sql.DB
	Path string
}

// NewSQLiteSource creates a source over an open database.
// path is only used in log and error messages.
func NewSQLiteSource(db *sql.DB, path string) *SQLiteSource {
	return &SQLiteSource{DB: db, Path: path}
}

// Devices returns enabled devices ordered by id.
func (s *SQLiteSource) Devices(ctx context.Context) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, kind, priority, status, params
		FROM devices
		WHERE enabled = 1
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec    Record
			kind   string
			status sql.NullString
			params string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &kind, &rec.Priority, &status, &params); err != nil {
			return nil, fmt.Errorf("%w: scanning device row: %w", ErrConfig, err)
		}
		rec.Kind = Kind(kind)
		rec.Status = status.String
		if params != "" {
			if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
				return nil, fmt.Errorf("%w: device %d params: %w", ErrConfig, rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return records, nil
}

func (s *SQLiteSource) String() string {
	return "sqlite:" + s.Path
}

// Insert writes rec into the devices table. Used by tooling and tests to
// seed an inventory; the daemon itself never writes devices.
func (s *SQLiteSource) Insert(ctx context.Context, rec Record) error {
	params := []byte("{}")
	if rec.Params != nil {
		var err error
		params, err = json.Marshal(rec.Params)
		if err != nil {
			return fmt.Errorf("marshalling params: %w", err)
		}
	}

	var status any
	if rec.Status != "" {
		status = rec.Status
	}

	if _, err := s.DB.ExecContext(ctx,
		"INSERT INTO devices (id, name, kind, priority, status, params) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, rec.Name, string(rec.Kind), rec.Priority, status, string(params),
	); err != nil {
		return fmt.Errorf("inserting device %d: %w", rec.ID, err)
	}
	return nil
}
