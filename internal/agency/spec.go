// ABOUTME: Declarative agency topology: agent definitions and communication edges.
// ABOUTME: Validates the graph shape before any remote resources are created.

package agency

import (
	"errors"
	"fmt"
)

// UserRole is the reserved role name for the end user. The main thread
// always runs between UserRole and the spec's main agent.
const UserRole = "user"

// Validation errors surfaced to the configuration layer.
var (
	ErrNoAgents           = errors.New("please add at least one agent")
	ErrNoMainAgent        = errors.New("main agent is required")
	ErrSameSenderReceiver = errors.New("cannot set the same agent as both sender and receiver")
	ErrMissingSender      = errors.New("sender agent is required")
	ErrMissingReceiver    = errors.New("receiver agent is required")
)

// AgentDef describes one agent role within an agency.
type AgentDef struct {
	Role         string   `json:"role" yaml:"role"`
	Instructions string   `json:"instructions" yaml:"instructions"`
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`

	// RemoteID is the remote assistant identifier, if one has already been
	// created for this agent. Empty until the first successful build.
	RemoteID string `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
}

// Edge is a directed communication channel between two agent roles.
type Edge struct {
	Sender   string `json:"sender" yaml:"sender"`
	Receiver string `json:"receiver" yaml:"receiver"`
}

// Spec is the declarative, persisted description of an agency's topology.
// It is produced by the configuration layer and read-only here.
type Spec struct {
	ID                 string     `json:"id" yaml:"id"`
	Name               string     `json:"name" yaml:"name"`
	SharedInstructions string     `json:"shared_instructions,omitempty" yaml:"shared_instructions,omitempty"`
	MainAgent          string     `json:"main_agent" yaml:"main_agent"`
	Agents             []AgentDef `json:"agents" yaml:"agents"`
	Edges              []Edge     `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Agent returns the definition for the given role, or nil if absent.
func (s *Spec) Agent(role string) *AgentDef {
	for i := range s.Agents {
		if s.Agents[i].Role == role {
			return &s.Agents[i]
		}
	}
	return nil
}

// Validate checks the structural invariants of the spec: a main agent must
// exist, every edge endpoint must name a defined agent, and an agent cannot
// message itself.
func (s *Spec) Validate() error {
	if len(s.Agents) == 0 {
		return ErrNoAgents
	}

	roles := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		if a.Role == "" {
			return fmt.Errorf("agent with empty role in agency %q", s.ID)
		}
		if a.Role == UserRole {
			return fmt.Errorf("role %q is reserved", UserRole)
		}
		if roles[a.Role] {
			return fmt.Errorf("duplicate agent role %q", a.Role)
		}
		roles[a.Role] = true
	}

	if s.MainAgent == "" {
		return ErrNoMainAgent
	}
	if !roles[s.MainAgent] {
		return fmt.Errorf("main agent %q is not defined in agents", s.MainAgent)
	}

	seen := make(map[Edge]bool, len(s.Edges))
	for _, e := range s.Edges {
		if e.Sender == "" {
			return ErrMissingSender
		}
		if e.Receiver == "" {
			return ErrMissingReceiver
		}
		if e.Sender == e.Receiver {
			return ErrSameSenderReceiver
		}
		if !roles[e.Sender] {
			return fmt.Errorf("edge sender %q is not defined in agents", e.Sender)
		}
		if !roles[e.Receiver] {
			return fmt.Errorf("edge receiver %q is not defined in agents", e.Receiver)
		}
		if seen[e] {
			return fmt.Errorf("duplicate edge %s -> %s", e.Sender, e.Receiver)
		}
		seen[e] = true
	}

	return nil
}
