// Package ayaka implements a personal Discord bot whose defining feature
// is how it manages its own relational schema: a versioned migration
// runner that brings the database from whatever version it's at up to the
// latest known version before anything else is allowed to run.
//
// Key components of the package:
//
//   - Bot: The main struct tying together configuration, the database,
//     the migration runner, the gateway session, and the status API.
//   - Migrator: Applies versioned SQL scripts exactly once each, in
//     ascending order, recording successes in the schema_migrations
//     ledger and rolling back on the first failure.
//   - FSSource: Parses V<n>__<description>.sql scripts from the embedded
//     migrations package or a directory on disk.
//   - Discord: A thin consumer of the Discord gateway - connect, set
//     presence, log connection events.
//   - API: A read-only status server exposing liveness and the current
//     schema watermark.
//
// Command handling, scraped-content clients, and the web dashboard that
// consume this schema live outside this repository; they're collaborators
// that issue SQL against the tables the migration scripts define.
package ayaka
