// Package migrations provides the embedded SQL migrations.
package migrations

import "embed"

// Files holds all .sql files from this directory (order matters: 001, 002, ...).
//
//go:embed *.sql
var Files embed.FS
