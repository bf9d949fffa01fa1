// Package store provides the embedded encrypted conversation store for
// chatvault: durable, concurrent, searchable persistence of conversations,
// messages, and personas on a single SQLCipher-encrypted SQLite file.
//
// # Architecture
//
// The package is organized around a small set of internal components, with
// the repositories as the only components that speak SQL:
//
//   - Pool: a bounded set of identically-initialized encrypted connections
//   - Schema manager: idempotent DDL (tables, indices, FTS5 + sync triggers)
//   - Query cache: TTL/LRU memoization in front of read-only queries
//   - Transaction executor: all-or-nothing mutation sequences, batch inserts
//   - Repositories: ConversationRepo, MessageRepo, PersonaRepo
//
// Read path: repository -> cache lookup -> on miss, pooled connection ->
// query -> cache store. Write path: transaction executor -> pooled
// connection -> canonical tables (FTS triggers fire in the same
// transaction) -> commit -> cache invalidation.
//
// # Encryption
//
// Every connection the pool creates applies the SQLCipher key and cipher
// parameters before any other statement executes. The key is validated
// against a strict character allow-list at Open time and is never logged,
// serialized, or included in error messages. There is no fallback to an
// unencrypted store: a failed key handshake fails Open.
//
// # Full-text search
//
// Conversation titles and message content are indexed in external-content
// FTS5 tables kept in sync by database triggers, so a canonical-table commit
// and its index update are never observably separable. Search supports bare
// terms (porter-stemmed, Unicode-aware), quoted phrases, and AND/OR
// combination. RebuildIndex repopulates both FTS tables from the canonical
// tables in one transaction, for administrative repair only.
//
// # Error Handling
//
// Operations return sentinel-wrapped errors matchable with errors.Is:
// ErrNotFound, ErrValidation, ErrConstraint, ErrPoolExhausted,
// ErrConnectionFailed, ErrIO. Validation errors are raised before any SQL
// executes. NotFound applies to lookups by id; list operations return empty
// collections instead.
//
// # Testing
//
// Use Open with StoreConfig{InMemory: true} for fast tests, or a file in
// t.TempDir() with an encryption key to exercise the cipher path.
package store
