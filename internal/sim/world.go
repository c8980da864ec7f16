// Package sim runs the fixed-step world: spawn intake, sensor scan, per-agent
// control, disposal and the physics step, in that order, once per tick.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/linetrace/simulator/internal/agent"
	"github.com/linetrace/simulator/internal/control"
	"github.com/linetrace/simulator/internal/course"
	"github.com/linetrace/simulator/internal/physics"
	"github.com/linetrace/simulator/internal/queue"
	"github.com/linetrace/simulator/internal/sensor"
)

var (
	ErrSpawnQueueFull = errors.New("spawn queue full")
	ErrClosed         = errors.New("world closed")
	ErrCourseFrozen   = errors.New("course is read-only once the simulation has started")
	ErrStepPanic      = errors.New("simulation step panicked")
)

// SensorConfig sizes and tunes the sensor fitted to every vehicle.
type SensorConfig struct {
	Width    float64
	Height   float64
	Offset   float64
	TieBreak sensor.TieBreak
	Epsilon  float64
}

// Config holds the world settings.
type Config struct {
	TickRate      int
	LifetimeTicks int
	FloorY        float64
	MaxSpawnQueue int
	Sensor        SensorConfig
	Control       control.Config
}

// DefaultConfig returns the stock world settings.
func DefaultConfig() Config {
	return Config{
		TickRate:      60,
		LifetimeTicks: agent.DefaultLifetime,
		FloorY:        -1,
		MaxSpawnQueue: 256,
		Sensor: SensorConfig{
			Width:   sensor.DefaultWidth,
			Height:  sensor.DefaultHeight,
			Offset:  sensor.DefaultOffset,
			Epsilon: sensor.DefaultEpsilon,
		},
		Control: control.DefaultConfig(),
	}
}

// SpawnRequest is a vehicle waiting for the next tick boundary.
type SpawnRequest struct {
	Spec   agent.Spec
	Source string
}

// Stats is an immutable snapshot published after every tick.
type Stats struct {
	Tick         uint64           `json:"tick"`
	Live         int              `json:"live"`
	Spawned      uint64           `json:"spawned"`
	Removed      uint64           `json:"removed"`
	Pending      int              `json:"pending"`
	Hits         int              `json:"hits"`
	Degenerate   uint64           `json:"degenerate"`
	StepDuration time.Duration    `json:"stepDuration"`
	Agents       []agent.Snapshot `json:"agents"`
}

// Option configures a World.
type Option func(*World)

// WithObserver registers an observer for lifecycle and tick notifications.
func WithObserver(o Observer) Option {
	return func(w *World) {
		if o == nil {
			return
		}
		if w.observer == nil {
			w.observer = o
			return
		}
		w.observer = MultiObserver{w.observer, o}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *World) {
		w.logger = l
	}
}

// WithCourse starts the world with an existing course.
func WithCourse(c *course.Course) Option {
	return func(w *World) {
		w.course = c
	}
}

// World owns the course, the live agents and the physics engine. Step must
// only be called from one goroutine; Enqueue and Stats are safe from any.
type World struct {
	cfg      Config
	engine   physics.Engine
	course   *course.Course
	scanner  sensor.Scanner
	spawns   *queue.Queue[SpawnRequest]
	observer Observer
	logger   *slog.Logger
	metrics  *metrics

	agents  []*agent.Agent
	tick    uint64
	nextID  int
	spawned uint64
	removed uint64
	degen   uint64

	mu     sync.RWMutex
	stats  Stats
	closed bool
}

// New creates a world around the given physics engine.
func New(cfg Config, engine physics.Engine, opts ...Option) (*World, error) {
	if engine == nil {
		return nil, errors.New("physics engine is required")
	}
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("tick rate must be positive, got %d", cfg.TickRate)
	}

	w := &World{
		cfg:    cfg,
		engine: engine,
		course: course.New(),
		scanner: sensor.Scanner{
			TieBreak: cfg.Sensor.TieBreak,
			Epsilon:  cfg.Sensor.Epsilon,
		},
		spawns: queue.New[SpawnRequest](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	m, err := newMetrics(w)
	if err != nil {
		return nil, err
	}
	w.metrics = m

	return w, nil
}

// DT returns the fixed step length in seconds.
func (w *World) DT() float64 {
	return 1 / float64(w.cfg.TickRate)
}

// Course returns the course. Callers must not modify it after Step starts.
func (w *World) Course() *course.Course {
	return w.course
}

// liveAgents returns the live agents. Simulation goroutine only.
func (w *World) liveAgents() []*agent.Agent {
	return slices.Clone(w.agents)
}

// LineTo extends the course. It fails once the first step has run.
func (w *World) LineTo(p mgl64.Vec3) error {
	if w.tick > 0 {
		return ErrCourseFrozen
	}
	w.course.Append(p)
	return nil
}

// Spawn adds a vehicle immediately. It must be called from the simulation
// goroutine, typically while running the setup script.
func (w *World) Spawn(spec agent.Spec) error {
	_, err := w.spawn(SpawnRequest{Spec: spec, Source: "script"})
	return err
}

// Enqueue schedules a spawn for the next tick boundary. Safe for concurrent use.
func (w *World) Enqueue(req SpawnRequest) error {
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !w.spawns.TryPush(w.cfg.MaxSpawnQueue, req) {
		return ErrSpawnQueueFull
	}
	return nil
}

func (w *World) spawn(req SpawnRequest) (*agent.Agent, error) {
	spec := req.Spec
	offset := w.cfg.Sensor.Offset
	if spec.SensorOffset != nil {
		offset = *spec.SensorOffset
	}

	v, err := w.engine.AddVehicle(spec.Position, spec.Orientation())
	if err != nil {
		return nil, fmt.Errorf("spawn %q: %w", spec.Nickname, err)
	}

	w.nextID++
	s := sensor.New(v, w.cfg.Sensor.Width, w.cfg.Sensor.Height, offset)
	a := agent.New(w.nextID, spec, v, s, w.cfg.LifetimeTicks, w.tick)
	a.Source = req.Source
	a.OnRelease(func() error { return w.engine.RemoveVehicle(v) })

	w.agents = append(w.agents, a)
	w.spawned++
	w.metrics.spawned.Add(context.Background(), 1)

	w.logger.Info("vehicle spawned",
		"id", a.ID,
		"nickname", a.Nickname,
		"source", req.Source,
		"targetSpeed", a.TargetSpeed,
		"kp", a.Gains.Kp,
		"kd", a.Gains.Kd,
		"tick", w.tick)

	if w.observer != nil {
		w.observer.AgentSpawned(w.tick, a.Snapshot())
	}
	return a, nil
}

// Step advances the world by one tick. A panic anywhere in the tick is
// recovered, logged with the tick number and returned as an error; the
// world stays usable.
func (w *World) Step() (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("simulation step failed",
				"tick", w.tick,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w at tick %d: %v", ErrStepPanic, w.tick, r)
		}
	}()

	for _, req := range w.spawns.GetAndEmpty() {
		if _, err := w.spawn(req); err != nil {
			w.logger.Warn("spawn rejected", "source", req.Source, "error", err)
		}
	}

	w.tick++

	sensors := make([]*sensor.Sensor, 0, len(w.agents))
	for _, a := range w.agents {
		sensors = append(sensors, a.Sensor)
	}
	scan := w.scanner.Scan(w.tick, w.course, sensors)
	if scan.Degenerate > 0 {
		w.degen += uint64(scan.Degenerate)
		w.metrics.degenerate.Add(context.Background(), int64(scan.Degenerate))
	}

	type removal struct {
		a      *agent.Agent
		reason agent.RemovalReason
	}
	var doomed []removal
	for _, a := range w.agents {
		if reason, ok := w.update(a); ok {
			doomed = append(doomed, removal{a, reason})
		}
	}

	for _, r := range doomed {
		w.release(r.a, r.reason)
	}
	if len(doomed) > 0 {
		w.agents = slices.DeleteFunc(w.agents, func(a *agent.Agent) bool { return !a.Active() })
	}

	w.engine.Step(w.DT())

	w.publish(scan, time.Since(start))
	return nil
}

// update runs one agent's controller. An agent whose update panics is
// removed with ReasonFailed and the tick carries on for the others.
func (w *World) update(a *agent.Agent) (reason agent.RemovalReason, remove bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("vehicle update failed",
				"id", a.ID,
				"nickname", a.Nickname,
				"tick", w.tick,
				"panic", r,
				"stack", string(debug.Stack()))
			reason, remove = agent.ReasonFailed, true
		}
	}()
	a.Update(w.cfg.Control)
	return a.ShouldRemove(w.cfg.FloorY)
}

func (w *World) release(a *agent.Agent, reason agent.RemovalReason) {
	if err := a.Release(reason); err != nil {
		w.logger.Warn("vehicle release failed", "id", a.ID, "error", err)
	}
	w.removed++
	w.metrics.recordRemoval(reason)

	snap := a.Snapshot()
	w.logger.Info("vehicle removed",
		"id", a.ID,
		"nickname", a.Nickname,
		"reason", reason,
		"tick", w.tick,
		"age", w.tick-a.SpawnTick)

	if w.observer != nil {
		w.observer.AgentRemoved(w.tick, snap, reason)
	}
}

func (w *World) publish(scan sensor.ScanStats, d time.Duration) {
	snaps := make([]agent.Snapshot, len(w.agents))
	for i, a := range w.agents {
		snaps[i] = a.Snapshot()
	}

	s := Stats{
		Tick:         w.tick,
		Live:         len(w.agents),
		Spawned:      w.spawned,
		Removed:      w.removed,
		Pending:      w.spawns.Len(),
		Hits:         scan.Hits,
		Degenerate:   w.degen,
		StepDuration: d,
		Agents:       snaps,
	}

	w.mu.Lock()
	w.stats = s
	w.mu.Unlock()

	w.metrics.tickDuration.Record(context.Background(), d.Seconds())

	if w.observer != nil {
		w.observer.TickCompleted(s)
	}
}

// Stats returns the snapshot published after the most recent tick.
func (w *World) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// Agent looks up a live agent in the latest snapshot.
func (w *World) Agent(id int) (agent.Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, a := range w.stats.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return agent.Snapshot{}, false
}

// Run steps the world at the configured tick rate until ctx is cancelled.
func (w *World) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(w.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// failures are logged by Step; the loop keeps going
			_ = w.Step()
		}
	}
}

// Close releases every remaining agent and rejects further spawns.
// It must be called from the simulation goroutine after Run returns.
func (w *World) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	for _, a := range w.agents {
		w.release(a, agent.ReasonShutdown)
	}
	w.agents = nil
	w.spawns.GetAndEmpty()
	w.publish(sensor.ScanStats{}, 0)
}
