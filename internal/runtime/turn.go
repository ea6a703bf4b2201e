// ABOUTME: Drives one conversation turn against a live graph's main thread.
// ABOUTME: Blocking; callers run it on a worker goroutine and drain the sink.

package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/agency-gateway/internal/agency"
)

// RunTurn executes one conversation turn: the user message goes to the
// graph's main thread and the main agent runs on it. Every incremental
// event the remote API emits is delivered to sink synchronously, in order,
// before RunTurn returns.
//
// The external runtime offers no cancellation primitive beyond the request
// context; once the stream is open, abandoning the turn means discarding
// its output, not aborting the run.
func RunTurn(ctx context.Context, g *agency.Graph, message string, sink agency.EventSink) error {
	if g.Main == nil || g.Main.RemoteID == "" {
		return errors.New("graph has no main thread; build it first")
	}
	main := g.MainAgent()
	if main == nil || main.RemoteID == "" {
		return errors.New("graph has no main agent identity; build it first")
	}

	client := g.Client()
	if client == nil {
		return errors.New("graph has no attached client")
	}

	wrapped := func(ev agency.Event) {
		if ev.Recipient == "" {
			ev.Recipient = main.Role
		}
		sink(ev)
	}

	if err := client.StreamRun(ctx, g.Main.RemoteID, main.RemoteID, message, wrapped); err != nil {
		return fmt.Errorf("running turn on agency %s: %w", g.AgencyID, err)
	}
	return nil
}
