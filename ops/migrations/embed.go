// Package migrations bundles the schema and seed files into the binaries.
package migrations

import "embed"

// SQL holds sql/*.up.sql and sql/*.down.sql.
//
//go:embed sql/*.sql
var SQL embed.FS

// Seeds holds optional development data.
//
//go:embed seeds/*.sql
var Seeds embed.FS
