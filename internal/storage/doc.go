// Package storage provides the key-value persistence layer used by the engine.
//
// It stores two kinds of per-user state, both as JSON arrays:
//   - history:<user>            (bounded notification history)
//   - seen:<user>:<category>    (bounded dedup key sets)
//
// Persistence is best-effort local state; callers log failures and keep their
// in-memory state authoritative.
package storage
