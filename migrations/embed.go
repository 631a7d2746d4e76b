// Package migrations embeds the sunneed SQL schema into the binary.
//
// Files are applied by database.DB.Migrate in filename order:
//
//	db.Migrate(ctx, migrations.FS, ".")
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
