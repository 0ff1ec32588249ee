// Package migrations embeds the relay store schema migrations.
package migrations

import "embed"

// FS holds the embedded .sql migration files.
//
//go:embed *.sql
var FS embed.FS
