// Package migrations embeds the SQL schema so the service binary can migrate
// a database without a migrations directory on disk.
package migrations

import "embed"

// FS holds every *.sql migration, applied in file name order
//
//go:embed *.sql
var FS embed.FS
