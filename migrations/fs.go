// Package migrations embeds the SQL migration files applied on startup.
package migrations

import "embed"

// FS holds the goose migration scripts.
//
//go:embed *.sql
var FS embed.FS
