// Package database provides SQLite connectivity for the sunneed device
// inventory.
//
// The daemon can load its devices either from a YAML file or from the
// devices table of a SQLite database. This package owns the connection
// and the schema; the device package owns the queries.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migrations are forward-only .up.sql files embedded by the top-level
// migrations package.
package database
