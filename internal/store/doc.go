// Package store provides persistent storage for agency-gateway using SQLite.
//
// # Data Models
//
//   - Agency specs: declarative topology documents, owned by a user or
//     stored as templates (NULL user_id) readable by everyone. Remote
//     assistant ids assigned by a build are persisted back into the spec.
//   - Sessions: one row per conversation, keyed by the main thread's remote
//     id, carrying the sender/receiver thread id map.
//   - User variables: per-user configuration values such as OPENAI_API_KEY.
//   - Graph cache: detached graphs with an expiry, the optional shared tier
//     behind the in-process graph cache.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for an ephemeral store in tests.
//
// # Error Handling
//
// Missing entities return ErrNotFound. LoadSpec enforces ownership, so a
// spec owned by another user is indistinguishable from one that does not
// exist. All methods accept context.Context for cancellation support.
package store
