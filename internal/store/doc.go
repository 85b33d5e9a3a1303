// Package store provides whole-document persistence for valueapi.
//
// # Architecture
//
// Persistence is split in two layers:
//
//   - Backend: reads and writes named documents as opaque bytes. Every read
//     and write reports a version, the BLAKE3 fingerprint of the bytes.
//   - DocumentStore[T]: caches one decoded document keyed by that version and
//     serializes load-mutate-save cycles with a mutex.
//
// Three backends exist:
//
//   - FileBackend: <dir>/<name>.json, replaced atomically via temp file + rename
//   - SQLiteBackend: one row per document in a "documents" table
//   - MemoryBackend: in-process, for tests
//
// # Documents
//
//   - config: groups and variables (ConfigStore, this package)
//   - history: the mutation ledger (internal/history)
//   - settings: API tokens and UI settings (internal/tokens)
//
// Documents are parsed leniently (comments and trailing commas are accepted)
// and written as two-space indented JSON.
//
// # Corruption
//
// A document that cannot be read or parsed is replaced by its fresh value and
// a warning is logged. The stored bytes are left alone until the next save,
// which overwrites them. Operators should watch for "document corrupt" in the
// logs.
//
// # Error Handling
//
// Sentinel errors are shared with the services built on this package:
//
//   - ErrNotFound, ErrAlreadyExists, ErrInvalidGroup, ErrProtected,
//     ErrInvalidArgument: domain failures
//   - ErrIO: a save failed; the cache still holds the last good document
package store
