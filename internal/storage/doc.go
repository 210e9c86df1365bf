// Package storage persists operator and poll records.
//
// Three drivers share one contract:
//   - "sqlite" (default): single-file database, WAL mode
//   - "postgres": pgx pool, for multi-instance deployments
//   - "memory": in-process maps for tests and development
//
// The store is the single source of truth. There is deliberately no
// environment- or process-local operator list: every authorization decision
// reads from here so that grants survive restarts and are shared across
// instances.
package storage
