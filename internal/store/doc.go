// Package store is the SQLite artifact cache of compilation runs.
//
// Every compiled descriptor is recorded as a run. Kernel functions are
// stored once per backend and signature and shared by every run that uses
// them, so the cache doubles as a catalogue of distinct generated kernels.
//
// # Ordering
//
// Runs carry a logical sequence number assigned at insert time. Queries
// order by seq, then id, so listings are identical across machines and
// replays regardless of wall time.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
