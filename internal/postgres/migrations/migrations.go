// Package migrations embeds the goose SQL migration files defining the entitlement pipeline's schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
