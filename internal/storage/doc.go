// Package storage persists broadcasts and their delivery records.
//
// Backends: memory (default), file (JSONL journal + snapshot), sqlite
// (optional build tag). All backends implement per-entity optimistic
// concurrency via the Version field.
package storage
