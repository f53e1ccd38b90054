// Package migrations embeds the PostgreSQL schema. Files are readable by
// goose and golang-migrate alike, so they carry only an Up section.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
