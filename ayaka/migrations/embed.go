// Package migrations embeds the bot's versioned SQL migration scripts so
// they're available regardless of working directory.
//
// Scripts are named V<version>__<description>.sql and start with an
// informational comment header (Revises, Creation Date, Reason). The DDL
// uses IF NOT EXISTS guards as defense against manual schema drift, but
// the runner never relies on that - it tracks applied versions in the
// schema_migrations ledger and applies each script exactly once.
package migrations

import "embed"

// FS holds every .sql script in this directory.
//
//go:embed *.sql
var FS embed.FS
