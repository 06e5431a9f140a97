// Package migrations embeds the goose migrations for the local SQLite
// database and the remote Postgres note store.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SQLite embed.FS

//go:embed postgres/*.sql
var Postgres embed.FS
