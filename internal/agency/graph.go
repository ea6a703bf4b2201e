// ABOUTME: Live agent graph built from a Spec, with remote identity handles.
// ABOUTME: Implements the stored/live duality: Stored strips clients, Attach restores them.

package agency

import (
	"fmt"
	"sort"
)

// AgentHandle is one live agent role with its remote assistant identity.
type AgentHandle struct {
	Role         string
	Name         string
	Instructions string
	Tools        []string
	RemoteID     string

	client Client
}

// Client returns the remote API client attached to this handle.
func (a *AgentHandle) Client() Client { return a.client }

// ThreadHandle is one live communication thread. Sender and Recipient are
// role names; the main thread uses UserRole as sender. The recipient
// pointer aliases the graph's agent handle for that role.
type ThreadHandle struct {
	Sender   string
	Receiver string
	RemoteID string

	recipient *AgentHandle
	client    Client
}

// Client returns the remote API client attached to this handle.
func (t *ThreadHandle) Client() Client { return t.client }

// RecipientAgent returns the agent handle this thread delivers to.
func (t *ThreadHandle) RecipientAgent() *AgentHandle { return t.recipient }

// Graph is the live agency: one handle per agent role, one thread per edge,
// plus the main user thread. A live graph belongs to exactly one caller;
// the cache holds only the detached StoredGraph form. Turn execution
// advances thread history through the attached client.
type Graph struct {
	AgencyID string
	Agents   map[string]*AgentHandle
	Threads  map[Edge]*ThreadHandle
	Main     *ThreadHandle

	client Client
}

// NewGraph constructs an unbuilt live graph from a validated spec, carrying
// over any remote ids the spec already knows. Thread handles start without
// remote ids; the builder fills the gaps.
func NewGraph(spec *Spec, client Client) (*Graph, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spec %q: %w", spec.ID, err)
	}

	g := &Graph{
		AgencyID: spec.ID,
		Agents:   make(map[string]*AgentHandle, len(spec.Agents)),
		Threads:  make(map[Edge]*ThreadHandle, len(spec.Edges)),
		client:   client,
	}

	for _, def := range spec.Agents {
		instructions := def.Instructions
		if spec.SharedInstructions != "" {
			instructions = spec.SharedInstructions + "\n\n" + instructions
		}
		g.Agents[def.Role] = &AgentHandle{
			Role:         def.Role,
			Name:         fmt.Sprintf("%s (%s)", def.Role, spec.ID),
			Instructions: instructions,
			Tools:        append([]string(nil), def.Tools...),
			RemoteID:     def.RemoteID,
			client:       client,
		}
	}

	for _, e := range spec.Edges {
		g.Threads[e] = &ThreadHandle{
			Sender:    e.Sender,
			Receiver:  e.Receiver,
			recipient: g.Agents[e.Receiver],
			client:    client,
		}
	}

	g.Main = &ThreadHandle{
		Sender:    UserRole,
		Receiver:  spec.MainAgent,
		recipient: g.Agents[spec.MainAgent],
		client:    client,
	}

	return g, nil
}

// Client returns the remote API client attached to the graph.
func (g *Graph) Client() Client { return g.client }

// MainAgent returns the handle the end user addresses directly.
func (g *Graph) MainAgent() *AgentHandle { return g.Main.recipient }

// Edges returns the graph's directed edges in deterministic order.
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0, len(g.Threads))
	for e := range g.Threads {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Sender != edges[j].Sender {
			return edges[i].Sender < edges[j].Sender
		}
		return edges[i].Receiver < edges[j].Receiver
	})
	return edges
}

// Reattach replaces the client reference on the graph and every agent and
// thread handle, including the main thread and its recipient pointer. Not
// safe for concurrent use; the caller must own the graph exclusively, as
// the builder does when resuming a freshly constructed one.
func (g *Graph) Reattach(client Client) {
	g.client = client
	for _, a := range g.Agents {
		a.client = client
	}
	for _, t := range g.Threads {
		t.client = client
		if t.recipient != nil {
			t.recipient.client = client
		}
	}
	g.Main.client = client
	if g.Main.recipient != nil {
		g.Main.recipient.client = client
	}
}

// StoredAgent is the serializable form of an agent handle.
type StoredAgent struct {
	Role         string   `json:"role"`
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	Tools        []string `json:"tools,omitempty"`
	RemoteID     string   `json:"remote_id"`
}

// StoredThread is the serializable form of a thread handle.
type StoredThread struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	RemoteID string `json:"remote_id"`
}

// StoredGraph is the plain-data form of a Graph: identical topology, no
// client references. This is the only form that may leave process memory.
type StoredGraph struct {
	AgencyID string         `json:"agency_id"`
	Agents   []StoredAgent  `json:"agents"`
	Threads  []StoredThread `json:"threads"`
	Main     StoredThread   `json:"main"`
}

// Stored returns the detached form of the graph. Every handle is
// enumerated explicitly: agents, each edge thread, the main thread, and
// (implicitly, by role reference) the main thread's recipient. The result
// shares no mutable state with the live graph.
func (g *Graph) Stored() *StoredGraph {
	s := &StoredGraph{
		AgencyID: g.AgencyID,
		Agents:   make([]StoredAgent, 0, len(g.Agents)),
		Threads:  make([]StoredThread, 0, len(g.Threads)),
		Main: StoredThread{
			Sender:   g.Main.Sender,
			Receiver: g.Main.Receiver,
			RemoteID: g.Main.RemoteID,
		},
	}

	roles := make([]string, 0, len(g.Agents))
	for role := range g.Agents {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		a := g.Agents[role]
		s.Agents = append(s.Agents, StoredAgent{
			Role:         a.Role,
			Name:         a.Name,
			Instructions: a.Instructions,
			Tools:        append([]string(nil), a.Tools...),
			RemoteID:     a.RemoteID,
		})
	}

	for _, e := range g.Edges() {
		t := g.Threads[e]
		s.Threads = append(s.Threads, StoredThread{
			Sender:   t.Sender,
			Receiver: t.Receiver,
			RemoteID: t.RemoteID,
		})
	}

	return s
}

// Attach rebuilds a live graph from the stored form, setting client on
// every agent handle, every edge thread, the main thread, and the main
// thread's recipient pointer. No handle is left without a client.
func (s *StoredGraph) Attach(client Client) (*Graph, error) {
	g := &Graph{
		AgencyID: s.AgencyID,
		Agents:   make(map[string]*AgentHandle, len(s.Agents)),
		Threads:  make(map[Edge]*ThreadHandle, len(s.Threads)),
		client:   client,
	}

	for _, a := range s.Agents {
		if _, dup := g.Agents[a.Role]; dup {
			return nil, fmt.Errorf("stored graph %q: duplicate agent role %q", s.AgencyID, a.Role)
		}
		g.Agents[a.Role] = &AgentHandle{
			Role:         a.Role,
			Name:         a.Name,
			Instructions: a.Instructions,
			Tools:        append([]string(nil), a.Tools...),
			RemoteID:     a.RemoteID,
			client:       client,
		}
	}

	for _, t := range s.Threads {
		recipient, ok := g.Agents[t.Receiver]
		if !ok {
			return nil, fmt.Errorf("stored graph %q: thread receiver %q has no agent", s.AgencyID, t.Receiver)
		}
		if t.Sender != UserRole {
			if _, ok := g.Agents[t.Sender]; !ok {
				return nil, fmt.Errorf("stored graph %q: thread sender %q has no agent", s.AgencyID, t.Sender)
			}
		}
		g.Threads[Edge{Sender: t.Sender, Receiver: t.Receiver}] = &ThreadHandle{
			Sender:    t.Sender,
			Receiver:  t.Receiver,
			RemoteID:  t.RemoteID,
			recipient: recipient,
			client:    client,
		}
	}

	mainRecipient, ok := g.Agents[s.Main.Receiver]
	if !ok {
		return nil, fmt.Errorf("stored graph %q: main thread receiver %q has no agent", s.AgencyID, s.Main.Receiver)
	}
	g.Main = &ThreadHandle{
		Sender:    s.Main.Sender,
		Receiver:  s.Main.Receiver,
		RemoteID:  s.Main.RemoteID,
		recipient: mainRecipient,
		client:    client,
	}

	return g, nil
}
