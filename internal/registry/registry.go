// Package registry provides the immutable catalog of pipeline agents.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/contentpipeline/internal/domain"
)

//go:embed agents.json
var defaultTable []byte

// Table is the on-disk shape of an agent definition file.
type Table struct {
	Agents []domain.Agent             `json:"agents"`
	Stages map[domain.Stage][]string `json:"stages"`
}

// Registry is a read-only agent catalog. It is safe for concurrent use because
// nothing mutates it after construction.
type Registry struct {
	agents []domain.Agent
	byID   map[string]int
	stages map[domain.Stage][]string
	active int
}

// Default returns the registry built from the embedded agent table.
func Default() (*Registry, error) {
	return Parse(defaultTable)
}

// Load reads an agent table from path. An empty path selects the embedded table.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates an agent table.
func Parse(data []byte) (*Registry, error) {
	var table Table
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode agent table: %w", err)
	}
	return New(table)
}

// New validates table and builds a registry from it.
func New(table Table) (*Registry, error) {
	r := &Registry{
		agents: make([]domain.Agent, 0, len(table.Agents)),
		byID:   make(map[string]int, len(table.Agents)),
		stages: make(map[domain.Stage][]string, len(table.Stages)),
	}

	for _, a := range table.Agents {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, fmt.Errorf("agent with name %q has no id", a.Name)
		}
		if _, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", a.ID)
		}
		switch a.Status {
		case domain.AgentActive:
			r.active++
		case domain.AgentInactive:
		default:
			return nil, fmt.Errorf("agent %q has unknown status %q", a.ID, a.Status)
		}
		a.Capabilities = append([]string(nil), a.Capabilities...)
		r.byID[a.ID] = len(r.agents)
		r.agents = append(r.agents, a)
	}

	for stage, ids := range table.Stages {
		if !knownStage(stage) {
			return nil, fmt.Errorf("unknown stage %q", stage)
		}
		for _, id := range ids {
			if _, ok := r.byID[id]; !ok {
				return nil, fmt.Errorf("stage %q references unknown agent %q", stage, id)
			}
		}
		r.stages[stage] = append([]string(nil), ids...)
	}

	return r, nil
}

func knownStage(s domain.Stage) bool {
	for _, st := range domain.Stages {
		if st == s {
			return true
		}
	}
	return false
}

// List returns all agents in table order.
func (r *Registry) List() []domain.Agent {
	out := make([]domain.Agent, len(r.agents))
	for i, a := range r.agents {
		a.Capabilities = append([]string(nil), a.Capabilities...)
		out[i] = a
	}
	return out
}

// Get returns the agent with the given id or domain.ErrNotFound.
func (r *Registry) Get(id string) (domain.Agent, error) {
	i, ok := r.byID[id]
	if !ok {
		return domain.Agent{}, fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
	}
	a := r.agents[i]
	a.Capabilities = append([]string(nil), a.Capabilities...)
	return a, nil
}

// ActiveCount returns the number of active agents.
func (r *Registry) ActiveCount() int {
	return r.active
}

// Len returns the total number of agents.
func (r *Registry) Len() int {
	return len(r.agents)
}

// StageAgents returns the ids of the active agents assigned to stage, in table order.
func (r *Registry) StageAgents(stage domain.Stage) []string {
	ids := r.stages[stage]
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if r.agents[r.byID[id]].IsActive() {
			out = append(out, id)
		}
	}
	return out
}

// Highlights returns the highlight text of every agent in table order.
func (r *Registry) Highlights() []string {
	out := make([]string, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Highlight)
	}
	return out
}
