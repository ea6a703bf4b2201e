// ABOUTME: Connection registry: concurrent-safe add, remove, and send by id.
// ABOUTME: Send to an unknown id is a no-op, never an error.

package relay

import (
	"sync"

	"github.com/2389/agency-gateway/internal/metrics"
)

// Sink delivers one outbound frame to a connection. Implementations
// serialize their own writes; the registry never calls a sink under its
// lock.
type Sink func(frame any)

// Registry tracks live connections by id. One mutex guards the map; the
// critical sections are O(1) map operations.
type Registry struct {
	mu    sync.Mutex
	sinks map[string]Sink
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

// Register adds a connection. A second Register for the same id replaces
// the previous sink.
func (r *Registry) Register(id string, sink Sink) {
	r.mu.Lock()
	r.sinks[id] = sink
	r.mu.Unlock()
}

// Unregister removes a connection. Sends that start afterwards are
// dropped; a Send that already picked up the sink may still invoke it
// after Unregister returns, so sinks must tolerate delivery after their
// connection closed. The websocket sink does: a write to a closed socket
// fails and is logged, nothing more.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.sinks, id)
	r.mu.Unlock()
}

// Send delivers frame to the connection, or silently drops it when the
// connection is gone. The sink runs outside the registry lock so one slow
// socket cannot stall every other connection; the cost is the delivery
// race documented on Unregister. The disconnect race is the normal case
// here, not a failure.
func (r *Registry) Send(id string, frame any) {
	r.mu.Lock()
	sink, ok := r.sinks[id]
	r.mu.Unlock()

	if !ok {
		return
	}
	metrics.RecordFrame(frameType(frame))
	sink(frame)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}
