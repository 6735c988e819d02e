// Package store provides the durable time-series storage for a monitoring
// session.
//
// Each session is backed by a single SQLite database with three relations:
// an append-only sample log, a registry of distinct variable names, and an
// upsert-by-key parameter table. The schema matches what a restarted session
// expects, so reopening an existing database preserves all prior data.
//
// The main components are:
//
//   - [Store]: SQLite-backed log, name registry, and parameters
//   - [Hub]: pub/sub fan-out of appended readings to live consumers
//   - [Point], [Reading]: query and streaming result types
//
// Mutating operations are serialized within the process (single-writer
// discipline); reads interleave freely with writes and always observe fully
// committed rows. Concurrent access from separate processes is unsupported.
//
// Users of the labwatch library should not need to interact with this
// package directly.
package store
