// Package session manages conversation sessions. A session pins the set of
// remote thread ids a conversation runs on, keyed by the main thread's id,
// so a conversation survives cache expiry and gateway restarts.
package session
