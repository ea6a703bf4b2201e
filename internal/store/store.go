// ABOUTME: Store data types and errors for agency-gateway persistence.
// ABOUTME: Defines Session and the record shapes the SQLite store round-trips.

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Session links a conversation to its owner, agency, and the remote thread
// ids the runtime needs to resume it. The session id doubles as the remote
// id of the main thread.
type Session struct {
	ID           string
	UserID       string
	AgencyID     string
	MainThreadID string

	// ThreadIDs maps sender role -> receiver role -> remote thread id for
	// every agent-to-agent edge of the conversation.
	ThreadIDs map[string]map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}
