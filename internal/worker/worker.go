// Package worker turns world notifications into storage records and relays
// spawn commands from the dispatcher into the world.
package worker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/linetrace/simulator/internal/agent"
	"github.com/linetrace/simulator/internal/cache"
	"github.com/linetrace/simulator/internal/course"
	"github.com/linetrace/simulator/internal/influx"
	"github.com/linetrace/simulator/internal/parser"
	"github.com/linetrace/simulator/internal/session"
	"github.com/linetrace/simulator/internal/sim"
	"github.com/linetrace/simulator/internal/storage"
	"github.com/linetrace/simulator/pkg/core"
)

// ErrNoBackend is returned by run operations when no storage is configured.
var ErrNoBackend = fmt.Errorf("no storage backend")

// Spawner accepts spawn requests for the next tick.
type Spawner interface {
	Enqueue(req sim.SpawnRequest) error
}

// PointWriter accepts time-series points.
type PointWriter interface {
	WritePoint(bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	World   Spawner
	Session *session.Context
	Cache   *cache.AgentCache
	Parser  *parser.Parser
	Influx  PointWriter
	Logger  *slog.Logger
	// RecordEvery is the number of ticks between state samples. 0 disables
	// sampling.
	RecordEvery int
	Now         func() time.Time
}

// Manager records what happens in the world. It implements sim.Observer.
type Manager struct {
	deps    Dependencies
	backend storage.Backend

	// guards lastErr only; observer calls come from the simulation goroutine
	mu      sync.Mutex
	lastErr error
}

var _ sim.Observer = (*Manager)(nil)

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Parser == nil {
		deps.Parser = parser.NewParser(deps.Logger)
	}
	return &Manager{
		deps:    deps,
		backend: backend,
	}
}

// SetWorld sets the world spawns are queued on. The world is built after
// the manager since the manager observes it.
func (m *Manager) SetWorld(w Spawner) {
	m.deps.World = w
}

func (m *Manager) hasBackend() bool {
	return m.backend != nil
}

func (m *Manager) room() string {
	if m.deps.Session == nil {
		return ""
	}
	return m.deps.Session.Room()
}

// NewRun describes a run about to start on the given course.
func NewRun(room string, tickRate int, c *course.Course, script []byte, tag, version string, start time.Time) *core.Run {
	pts := c.Points()
	positions := make([]core.Position3D, len(pts))
	for i, p := range pts {
		positions[i] = core.Position3D{X: p.X(), Y: p.Y(), Z: p.Z()}
	}
	return &core.Run{
		Room:             room,
		StartTime:        start,
		TickRate:         tickRate,
		Course:           positions,
		CourseLength:     c.Length(),
		Script:           script,
		Tag:              tag,
		SimulatorVersion: version,
	}
}

// StartRun opens the run in storage and makes it current.
func (m *Manager) StartRun(run *core.Run) error {
	if !m.hasBackend() {
		return ErrNoBackend
	}
	if err := m.backend.StartRun(run); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	if m.deps.Session != nil {
		m.deps.Session.SetRun(run)
	}
	if m.deps.Cache != nil {
		m.deps.Cache.Reset()
	}
	m.deps.Logger.Info("Run started", "room", run.Room, "runId", run.ID, "tag", run.Tag)
	return nil
}

// EndRun closes the current run with the final world counters.
func (m *Manager) EndRun(st sim.Stats) error {
	if !m.hasBackend() {
		return ErrNoBackend
	}
	end := core.RunEnd{
		EndTime: m.deps.Now(),
		Ticks:   st.Tick,
		Spawned: st.Spawned,
		Removed: st.Removed,
	}
	if err := m.backend.EndRun(end); err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	m.deps.Logger.Info("Run ended", "ticks", st.Tick, "spawned", st.Spawned, "removed", st.Removed)
	return nil
}

// QueueReporter is an optional interface for backends that buffer writes.
type QueueReporter interface {
	QueueLengths() map[string]int
}

// QueueLengths returns the backend's pending write counts, or nil if the
// backend writes synchronously.
func (m *Manager) QueueLengths() map[string]int {
	if p, ok := m.backend.(QueueReporter); ok {
		return p.QueueLengths()
	}
	return nil
}

// LastError returns the most recent storage failure seen by the observer.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) fail(msg string, err error, args ...any) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.deps.Logger.Error(msg, append(args, "error", err)...)
}

func position(p [3]float64) core.Position3D {
	return core.Position3D{X: p[0], Y: p[1], Z: p[2]}
}

// SnapshotToVehicle converts a freshly spawned agent.
func SnapshotToVehicle(s agent.Snapshot, now time.Time) core.Vehicle {
	return core.Vehicle{
		ID:          uint(s.ID),
		Nickname:    s.Nickname,
		Label:       s.Label,
		Source:      s.Source,
		SpawnTick:   s.SpawnTick,
		SpawnTime:   now,
		Position:    position(s.Position),
		Heading:     s.Heading,
		TargetSpeed: s.TargetSpeed,
		Kp:          s.Kp,
		Kd:          s.Kd,
	}
}

// SnapshotToState converts an agent sample.
func SnapshotToState(tick uint64, s agent.Snapshot, now time.Time) core.VehicleState {
	return core.VehicleState{
		VehicleID:        uint(s.ID),
		Tick:             tick,
		Time:             now,
		Position:         position(s.Position),
		Heading:          s.Heading,
		SpeedKmh:         s.SpeedKmh,
		Steering:         s.Steering,
		EngineForce:      s.EngineForce,
		HasReading:       s.Reading.Valid,
		LateralError:     s.Reading.Error,
		LateralErrorRate: s.Reading.ErrorRate,
		Lifetime:         s.Lifetime,
	}
}

// AgentSpawned registers the vehicle with storage.
func (m *Manager) AgentSpawned(tick uint64, s agent.Snapshot) {
	if m.deps.Cache != nil {
		m.deps.Cache.AddSpawned(s)
	}
	if !m.hasBackend() {
		return
	}
	v := SnapshotToVehicle(s, m.deps.Now())
	if err := m.backend.AddVehicle(&v); err != nil {
		m.fail("Error adding vehicle", err, "id", s.ID, "tick", tick)
	}
}

// AgentRemoved records the removal and keeps the final snapshot in the cache.
func (m *Manager) AgentRemoved(tick uint64, s agent.Snapshot, reason agent.RemovalReason) {
	age := tick - s.SpawnTick
	if m.deps.Cache != nil {
		m.deps.Cache.AddRemoved(cache.RemovedAgent{
			Snapshot: s,
			Reason:   string(reason),
			Tick:     tick,
			Age:      age,
		})
	}
	if !m.hasBackend() {
		return
	}
	r := core.Removal{
		VehicleID: uint(s.ID),
		Tick:      tick,
		Time:      m.deps.Now(),
		Reason:    string(reason),
		Position:  position(s.Position),
		Age:       age,
	}
	if err := m.backend.RecordRemoval(&r); err != nil {
		m.fail("Error recording removal", err, "id", s.ID, "tick", tick)
	}
}

// TickCompleted samples every live agent each RecordEvery ticks.
func (m *Manager) TickCompleted(st sim.Stats) {
	every := uint64(m.deps.RecordEvery)
	if every == 0 || st.Tick%every != 0 {
		return
	}
	now := m.deps.Now()
	room := m.room()

	for _, s := range st.Agents {
		state := SnapshotToState(st.Tick, s, now)
		if m.hasBackend() {
			if err := m.backend.RecordVehicleState(&state); err != nil {
				m.fail("Error recording vehicle state", err, "id", s.ID, "tick", st.Tick)
			}
		}
		if m.deps.Influx != nil {
			if err := m.deps.Influx.WritePoint(influx.BucketTelemetry, influx.VehicleStatePoint(room, s.Nickname, state)); err != nil {
				m.fail("Error writing telemetry point", err, "id", s.ID)
			}
		}
	}
}
