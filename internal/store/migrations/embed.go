// Package migrations embeds the append-only, versioned goose SQL migrations
// that bring a fresh browser-debug.db up to the current schema_version.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
