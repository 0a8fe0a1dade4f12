package migrations

import "embed"

// FS contains embedded SQLite migrations for session and project storage.
//
//go:embed *.sql
var FS embed.FS
