// Package crew binds personas to tasks and runs a pipeline of tasks in
// order, passing upstream outputs along as context.
package crew

import (
	"fmt"

	"github.com/ytnobody/riskcrew/internal/llm"
	"github.com/ytnobody/riskcrew/internal/tools"
	"github.com/ytnobody/riskcrew/prompts"
)

// Agent is a persona with its tools and model. Snapshot is the memory
// ledger rendering captured when the agent was built.
type Agent struct {
	Key       Role
	Role      string
	Goal      string
	Backstory string
	Tools     tools.Set
	Snapshot  string
	Client    llm.Client
}

// Team holds one agent per role.
type Team map[Role]*Agent

type TeamConfig struct {
	Catalog      *prompts.Catalog
	Capabilities tools.Set
	Snapshot     string
	ClientFor    func(Role) (llm.Client, error)
}

// NewTeam builds every role in Roles() from the catalogue.
func NewTeam(cfg TeamConfig) (Team, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("crew: no prompt catalogue")
	}
	if cfg.ClientFor == nil {
		return nil, fmt.Errorf("crew: no llm client factory")
	}

	team := make(Team, len(Roles()))
	for _, role := range Roles() {
		persona, err := cfg.Catalog.Persona(string(role))
		if err != nil {
			return nil, err
		}
		client, err := cfg.ClientFor(role)
		if err != nil {
			return nil, fmt.Errorf("llm client for %s: %w", role, err)
		}
		team[role] = &Agent{
			Key:       role,
			Role:      persona.Role,
			Goal:      persona.Goal,
			Backstory: persona.Backstory,
			Tools:     ToolsFor(role, cfg.Capabilities),
			Snapshot:  cfg.Snapshot,
			Client:    client,
		}
	}
	return team, nil
}
