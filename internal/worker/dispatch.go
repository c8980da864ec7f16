package worker

import (
	"fmt"

	"github.com/linetrace/simulator/internal/dispatcher"
	"github.com/linetrace/simulator/internal/sim"
)

// CommandSpawn queues a vehicle design for the next tick.
const CommandSpawn = "spawn"

// SpawnBuffer is the dispatcher queue size for spawn commands.
const SpawnBuffer = 1000

// RegisterHandlers registers all event handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(CommandSpawn, m.handleSpawn, dispatcher.Buffered(SpawnBuffer), dispatcher.Logged())
}

func (m *Manager) handleSpawn(e dispatcher.Event) (any, error) {
	if m.deps.World == nil {
		return nil, fmt.Errorf("no world to spawn into")
	}

	design, err := m.deps.Parser.ParseDesign(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse spawn design: %w", err)
	}

	source := e.Source
	if source == "" {
		source = "remote"
	}
	if err := m.deps.World.Enqueue(sim.SpawnRequest{Spec: design.Spec(), Source: source}); err != nil {
		return nil, fmt.Errorf("failed to enqueue %q: %w", design.Nickname, err)
	}
	return design, nil
}
