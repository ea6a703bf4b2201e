// ABOUTME: Materializes a live agent graph from a spec via the remote API.
// ABOUTME: Idempotent gap-filling: existing remote ids are kept, only missing ones are created.

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/2389/agency-gateway/internal/agency"
)

// Builder turns a validated Spec into a live Graph by creating the remote
// assistant for every agent without one and the remote thread for every
// edge (plus the main thread) without one.
//
// Build makes blocking network calls and must run off any connection loop.
// On partial failure the ids created so far remain set on the returned
// graph; a retry with that graph's ids fills only the remaining gaps.
// There is no compensating deletion.
type Builder struct {
	client agency.Client
	logger *slog.Logger
}

// NewBuilder creates a builder bound to one remote API client.
func NewBuilder(client agency.Client, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		client: client,
		logger: logger.With("component", "builder"),
	}
}

// Build materializes the graph for spec. The returned graph is attached to
// the builder's client. On error the partially built graph is returned too
// so the caller can persist the ids already assigned.
func (b *Builder) Build(ctx context.Context, spec *agency.Spec) (*agency.Graph, error) {
	g, err := agency.NewGraph(spec, b.client)
	if err != nil {
		return nil, err
	}

	if err := b.fill(ctx, g); err != nil {
		return g, err
	}

	b.logger.Info("agent graph built",
		"agency_id", g.AgencyID,
		"agents", len(g.Agents),
		"threads", len(g.Threads)+1,
	)
	return g, nil
}

// Resume fills gaps on an existing graph, typically after a partial build
// failure or after loading a stored graph with missing thread ids.
func (b *Builder) Resume(ctx context.Context, g *agency.Graph) error {
	g.Reattach(b.client)
	return b.fill(ctx, g)
}

// fill creates every missing remote identity, assistants first so that
// thread creation never references an agent without one.
func (b *Builder) fill(ctx context.Context, g *agency.Graph) error {
	for _, role := range sortedRoles(g) {
		a := g.Agents[role]
		if a.RemoteID != "" {
			continue
		}
		id, err := b.client.CreateAssistant(ctx, a.Name, a.Instructions, a.Tools)
		if err != nil {
			return fmt.Errorf("creating assistant for role %q: %w", a.Role, err)
		}
		a.RemoteID = id
	}

	for _, e := range g.Edges() {
		t := g.Threads[e]
		if t.RemoteID != "" {
			continue
		}
		id, err := b.client.CreateThread(ctx)
		if err != nil {
			return fmt.Errorf("creating thread %s -> %s: %w", t.Sender, t.Receiver, err)
		}
		t.RemoteID = id
	}

	if g.Main.RemoteID == "" {
		id, err := b.client.CreateThread(ctx)
		if err != nil {
			return fmt.Errorf("creating main thread: %w", err)
		}
		g.Main.RemoteID = id
	}

	return nil
}

// sortedRoles returns role names in deterministic order so that retries
// after a partial failure create identities in the same sequence.
func sortedRoles(g *agency.Graph) []string {
	roles := make([]string, 0, len(g.Agents))
	for role := range g.Agents {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
