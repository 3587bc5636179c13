// Package store provides SQLite-backed storage for records and save history.
//
// It backs the reference record server (one row per field, each with a
// version that increments on every write) and keeps an append-only log of
// save outcomes for diagnosing recurring failures.
//
// # Conventions
//
//   - Field values are stored as canonical JSON TEXT, so equal values are
//     byte-equal in the database.
//   - History queries order by the autoincrement id, never by timestamp,
//     so results are stable when several outcomes share a wall-clock time.
//   - Timestamps are stored as RFC 3339 TEXT in UTC.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait on lock contention
//   - foreign_keys=ON
package store
