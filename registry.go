// Package agentinterop drives stdio agent processes over a length-prefixed
// JSON protocol. This package holds the agent catalog: which agents can be
// launched, how, and which skills they offer.
package agentinterop

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/machinefabric/agentinterop-go/bifaci"
)

// SkillChat is the turn-based session skill.
const SkillChat = "chat"

// MockAgentID identifies the built-in reference agent.
const MockAgentID = "mock-agent"

var (
	ErrUnknownAgent = errors.New("unknown agent")
	ErrUnknownSkill = errors.New("unsupported skill")
)

// RegistryError represents errors that can occur during agent resolution
type RegistryError struct {
	Type    string
	Message string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is matches ErrUnknownAgent and ErrUnknownSkill by type.
func (e *RegistryError) Is(target error) bool {
	switch target {
	case ErrUnknownAgent:
		return e.Type == "UnknownAgent"
	case ErrUnknownSkill:
		return e.Type == "UnknownSkill"
	}
	return false
}

// NewUnknownAgentError creates a new error for an agent id not in the catalog
func NewUnknownAgentError(id string) *RegistryError {
	return &RegistryError{
		Type:    "UnknownAgent",
		Message: fmt.Sprintf("Unknown agent: %s", id),
	}
}

// NewUnknownSkillError creates a new error for a skill the agent does not offer
func NewUnknownSkillError(agentID, skill string) *RegistryError {
	return &RegistryError{
		Type:    "UnknownSkill",
		Message: fmt.Sprintf("Unknown skill: %s (agent %s)", skill, agentID),
	}
}

// NewRegistryError creates a new general registry error
func NewRegistryError(message string) *RegistryError {
	return &RegistryError{
		Type:    "RegistryError",
		Message: message,
	}
}

// AgentCard describes one launchable agent.
type AgentCard struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
	Env         []string `json:"env,omitempty"`
	Skills      []string `json:"skills"`
}

// Supports reports whether the agent offers skill.
func (c AgentCard) Supports(skill string) bool {
	return slices.Contains(c.Skills, skill)
}

// SpawnCommand returns the process description for this agent with extra
// launch arguments appended.
func (c AgentCard) SpawnCommand(stderr io.Writer, extraArgs ...string) bifaci.Command {
	args := append(slices.Clone(c.Args), extraArgs...)
	return bifaci.Command{
		Path:   c.Command,
		Args:   args,
		Env:    slices.Clone(c.Env),
		Stderr: stderr,
	}
}

// Registry is an ordered agent catalog.
type Registry struct {
	agents map[string]AgentCard
	order  []string
}

// NewRegistry creates a new empty agent registry
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]AgentCard)}
}

// Register adds card. Ids must be unique and non-empty.
func (r *Registry) Register(card AgentCard) error {
	if card.ID == "" {
		return NewRegistryError("agent card has no id")
	}
	if card.Command == "" {
		return NewRegistryError(fmt.Sprintf("agent %s has no command", card.ID))
	}
	if _, exists := r.agents[card.ID]; exists {
		return NewRegistryError(fmt.Sprintf("agent %s already registered", card.ID))
	}
	r.agents[card.ID] = card
	r.order = append(r.order, card.ID)
	return nil
}

// Lookup returns the card for id.
func (r *Registry) Lookup(id string) (AgentCard, error) {
	card, ok := r.agents[id]
	if !ok {
		return AgentCard{}, NewUnknownAgentError(id)
	}
	return card, nil
}

// Resolve returns the card for id after checking that it offers skill.
// Callers run it before spawning anything.
func (r *Registry) Resolve(id, skill string) (AgentCard, error) {
	card, err := r.Lookup(id)
	if err != nil {
		return AgentCard{}, err
	}
	if !card.Supports(skill) {
		return AgentCard{}, NewUnknownSkillError(id, skill)
	}
	return card, nil
}

// List returns the cards in registration order.
func (r *Registry) List() []AgentCard {
	out := make([]AgentCard, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// MockAgentCard describes the reference runtime started as executable with
// args.
func MockAgentCard(executable string, args ...string) AgentCard {
	return AgentCard{
		ID:          MockAgentID,
		Name:        "Mock Agent",
		Description: "Deterministic local agent that echoes prompts in chunks.",
		Command:     executable,
		Args:        args,
		Skills:      []string{SkillChat},
	}
}

// BuiltinRegistry returns a catalog holding the mock agent, launched through
// the hidden mock-agent subcommand of the running executable.
func BuiltinRegistry() (*Registry, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	r := NewRegistry()
	if err := r.Register(MockAgentCard(exe, "mock-agent")); err != nil {
		return nil, err
	}
	return r, nil
}
