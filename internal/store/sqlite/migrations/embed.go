package migrations

import "embed"

// FS contains embedded SQLite migrations for the rate cache and shipments.
//
//go:embed *.sql
var FS embed.FS
