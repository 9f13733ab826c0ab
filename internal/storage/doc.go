// Package storage persists task samples and their running aggregates.
//
// Every sample lands in its metric's table; after each insert the metric's
// average, minimum, maximum and count are recomputed and stored in the
// aggregates table, keyed uniquely by category (the metric name).
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "file": dependency-free JSON Lines samples + aggregate snapshot
package storage
