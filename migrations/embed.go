// Package migrations embeds the SQL schema of the Warden identity store.
//
// The files are compiled into the binary and passed to database.DB.Migrate.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
