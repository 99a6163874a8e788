// Package store provides persistence for penny-gateway.
//
// The kernel reads and writes conversations, messages, tool calls,
// checkpoints, audit entries, and usage records through the Store interface.
// SQLiteStore is the production implementation, backed by modernc.org/sqlite
// with WAL mode and automatic schema creation.
//
// Timestamps are stored as RFC 3339 strings in UTC. Message history is
// append-only; the kernel never updates or deletes messages, and audit
// entries are never mutated after insert.
package store
