// Package graphcache caches agent graphs in detached form. Building a
// graph creates remote assistants and threads, so a warm entry saves
// several network round-trips; the cache guarantees at most one build in
// flight per key and hands every caller its own live graph attached to
// that caller's client, so entries carry remote identities but never a
// caller's credentials or mutable state.
package graphcache
