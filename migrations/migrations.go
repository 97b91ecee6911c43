// Package migrations embeds the SQL schema so binaries and integration tests
// apply exactly the same files.
package migrations

import "embed"

// FS holds every *.sql migration, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
