// Package storage is the delivery ledger: a durable log of every attempted
// send, used for reporting and as the source of truth for "already notified
// today" checks.
//
// Backends:
//   - "sqlite": modernc.org/sqlite file (single writer, WAL)
//   - "postgres": lib/pq, usually the same database as the catalog
//   - "file": JSON Lines journal + snapshot, no external dependencies
package storage
