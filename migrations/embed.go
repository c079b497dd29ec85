// Package migrations embeds the versioned SQL applied by "medibook migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
