// Package storage persists schedule definitions and enrollment snapshots.
//
// Drivers:
//   - memory: maps under a mutex, nothing survives a restart
//   - file: memory state plus a JSONL journal compacted into a snapshot
//   - sqlite: modernc.org/sqlite, WAL mode
//   - postgres: lib/pq, same schema as sqlite
//
// Enrollment writes are conditional on Version. Storage never decides
// state transitions; it only stores the snapshots it is given.
package storage
