// Package storage is the durable subscription store.
//
// It owns two maps, subscriber -> source keys and source key -> last seen
// item identity, and persists every mutation before returning. Drivers:
//   - "file":   one JSON document rewritten on each mutation
//   - "sqlite": SQLite database file (modernc.org/sqlite)
package storage
