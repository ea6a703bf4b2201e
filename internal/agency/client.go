// ABOUTME: Boundary interface to the remote conversation API.
// ABOUTME: Defines the turn event stream consumed by the relay.

package agency

import (
	"context"
	"time"
)

// EventKind identifies the type of an incremental turn event.
type EventKind int

const (
	// EventTextCreated fires when an agent starts a new text block.
	EventTextCreated EventKind = iota
	// EventTextDelta carries an incremental chunk of agent text.
	EventTextDelta
	// EventToolCallCreated fires when an agent invokes a tool.
	EventToolCallCreated
	// EventToolCallDelta carries incremental tool input.
	EventToolCallDelta
	// EventToolOutput carries tool execution output.
	EventToolOutput
)

// Event is one incremental output item emitted while a turn runs.
// Sender and Recipient are agent role names; Sender is empty for events
// on the main thread.
type Event struct {
	Kind      EventKind
	Text      string
	ToolName  string
	Sender    string
	Recipient string
}

// EventSink receives turn events synchronously, in emission order.
// RunTurn does not return until every event has been delivered to the sink.
type EventSink func(Event)

// Message is one entry of a thread's consolidated history.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is the remote conversation API boundary. It owns assistant and
// thread identities and drives turn execution. Implementations make
// blocking network calls; callers bridge them off the connection loop.
//
// A Client carries per-user credentials and must never be serialized with
// a graph; see Graph.Stored and StoredGraph.Attach.
type Client interface {
	// CreateAssistant creates a remote conversational identity and returns
	// its id.
	CreateAssistant(ctx context.Context, name, instructions string, tools []string) (string, error)

	// CreateThread creates a remote conversation thread and returns its id.
	CreateThread(ctx context.Context) (string, error)

	// StreamRun posts message to the thread and runs the assistant on it,
	// delivering incremental events to sink in order until the run settles.
	StreamRun(ctx context.Context, threadID, assistantID, message string, sink EventSink) error

	// ListMessages returns up to limit messages of the thread in
	// chronological order.
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}
