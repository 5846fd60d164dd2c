// Package migrations embeds the schema files applied to every facility schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
