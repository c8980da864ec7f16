package sim

import "github.com/linetrace/simulator/internal/agent"

// Observer is notified from the simulation goroutine. Implementations must
// not block for long and must not call back into the World.
type Observer interface {
	AgentSpawned(tick uint64, a agent.Snapshot)
	AgentRemoved(tick uint64, a agent.Snapshot, reason agent.RemovalReason)
	TickCompleted(s Stats)
}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) AgentSpawned(tick uint64, a agent.Snapshot) {
	for _, o := range m {
		o.AgentSpawned(tick, a)
	}
}

func (m MultiObserver) AgentRemoved(tick uint64, a agent.Snapshot, reason agent.RemovalReason) {
	for _, o := range m {
		o.AgentRemoved(tick, a, reason)
	}
}

func (m MultiObserver) TickCompleted(s Stats) {
	for _, o := range m {
		o.TickCompleted(s)
	}
}
