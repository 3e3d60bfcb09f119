// Package migrations applies the embedded schema for the signals, sessions
// and price_samples tables. Files run in lexical order; a new migration
// takes the next NNNN_ prefix and must stay idempotent.
package migrations

import "embed"

// PostgresFS holds the relational schema: sessions, signals and the
// fallback price_samples table.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the price-sample time-series schema used when a
// ClickHouse DSN is configured.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
