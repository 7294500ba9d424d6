// Package storage keeps the run journal: an append-only log of every task
// execution attempt, independent of the bounded per-task history.
//
// Drivers:
//   - "file":   JSON Lines, compacted to the retention window
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
package storage
