package worker

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linetrace/simulator/internal/agent"
	"github.com/linetrace/simulator/internal/cache"
	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/internal/course"
	"github.com/linetrace/simulator/internal/dispatcher"
	"github.com/linetrace/simulator/internal/influx"
	"github.com/linetrace/simulator/internal/parser"
	"github.com/linetrace/simulator/internal/physics"
	"github.com/linetrace/simulator/internal/session"
	"github.com/linetrace/simulator/internal/sim"
	"github.com/linetrace/simulator/internal/storage/memory"
	"github.com/linetrace/simulator/pkg/core"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeInflux struct {
	mu      sync.Mutex
	buckets []string
}

func (f *fakeInflux) WritePoint(bucket string, _ *influxdb2_write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = append(f.buckets, bucket)
	return nil
}

type fakeSpawner struct {
	reqs []sim.SpawnRequest
	err  error
}

func (f *fakeSpawner) Enqueue(req sim.SpawnRequest) error {
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

type failingBackend struct {
	*memory.Backend
}

func (failingBackend) AddVehicle(*core.Vehicle) error { return errors.New("disk full") }

type nopDispatchLogger struct{}

func (nopDispatchLogger) Debug(string, ...any) {}
func (nopDispatchLogger) Info(string, ...any)  {}
func (nopDispatchLogger) Error(string, ...any) {}

func newWorld(t *testing.T, opts ...sim.Option) *sim.World {
	t.Helper()
	engine, err := physics.NewModel(physics.DefaultConfig())
	require.NoError(t, err)
	w, err := sim.New(sim.DefaultConfig(), engine, opts...)
	require.NoError(t, err)
	require.NoError(t, w.LineTo(mgl64.Vec3{0, 0, -500}))
	require.NoError(t, w.LineTo(mgl64.Vec3{0, 0, 500}))
	return w
}

func newManager(t *testing.T, rec int) (*Manager, *memory.Backend, *session.Context, *cache.AgentCache) {
	t.Helper()
	store := memory.New(config.MemoryConfig{OutputDir: t.TempDir()})
	sess := session.NewContext("lab")
	c := cache.NewAgentCache(16, time.Minute)
	m := NewManager(Dependencies{
		Session:     sess,
		Cache:       c,
		Logger:      discard(),
		RecordEvery: rec,
		Now:         func() time.Time { return fixedNow },
	}, store)
	return m, store, sess, c
}

func TestNewRun(t *testing.T) {
	c := course.New(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 0, 10})
	run := NewRun("lab", 60, c, []byte(`{"commands":[]}`), "practice", "1.0.0", fixedNow)

	assert.Equal(t, "lab", run.Room)
	assert.Equal(t, 60, run.TickRate)
	assert.Equal(t, []core.Position3D{{}, {Z: 10}}, run.Course)
	assert.InDelta(t, 10.0, run.CourseLength, 1e-9)
	assert.Equal(t, "practice", run.Tag)
	assert.Equal(t, fixedNow, run.StartTime)
}

func TestStartRun_SetsSession(t *testing.T) {
	m, _, sess, c := newManager(t, 0)
	c.AddSpawned(agent.Snapshot{ID: 1, Nickname: "old"})

	run := &core.Run{Room: "lab", TickRate: 60}
	require.NoError(t, m.StartRun(run))

	assert.Same(t, run, sess.GetRun())
	assert.Empty(t, c.IDsByNickname("old"))
}

func TestRunOperations_NoBackend(t *testing.T) {
	m := NewManager(Dependencies{Logger: discard()}, nil)

	assert.ErrorIs(t, m.StartRun(&core.Run{}), ErrNoBackend)
	assert.ErrorIs(t, m.EndRun(sim.Stats{}), ErrNoBackend)
	assert.Nil(t, m.QueueLengths())

	// observer calls are safe without storage
	m.AgentSpawned(1, agent.Snapshot{ID: 1})
	m.AgentRemoved(2, agent.Snapshot{ID: 1}, agent.ReasonFell)
	m.TickCompleted(sim.Stats{Tick: 30})
}

func TestObserver_RecordsLifecycle(t *testing.T) {
	m, store, _, c := newManager(t, 2)
	inf := &fakeInflux{}
	m.deps.Influx = inf
	require.NoError(t, m.StartRun(&core.Run{Room: "lab", TickRate: 60}))

	w := newWorld(t, sim.WithObserver(m), sim.WithLogger(discard()))
	require.NoError(t, w.Spawn(agent.Spec{Nickname: "alice+1", Position: mgl64.Vec3{0, 0.5, 0}, TargetSpeed: 5, Kp: 0.5, Td: 0.2}))

	for range 4 {
		require.NoError(t, w.Step())
	}
	w.Close()

	rec, ok := store.GetVehicle(1)
	require.True(t, ok)
	assert.Equal(t, "alice+1", rec.Vehicle.Nickname)
	assert.Equal(t, "alice", rec.Vehicle.Label)
	assert.Equal(t, "script", rec.Vehicle.Source)
	assert.Equal(t, fixedNow, rec.Vehicle.SpawnTime)
	assert.InDelta(t, 0.1, rec.Vehicle.Kd, 1e-12)

	// ticks 2 and 4
	require.Len(t, rec.States, 2)
	assert.Equal(t, uint64(2), rec.States[0].Tick)
	assert.Equal(t, uint64(4), rec.States[1].Tick)
	assert.Len(t, inf.buckets, 2)
	assert.Equal(t, influx.BucketTelemetry, inf.buckets[0])

	require.NotNil(t, rec.Removal)
	assert.Equal(t, string(agent.ReasonShutdown), rec.Removal.Reason)
	assert.Equal(t, uint64(4), rec.Removal.Age)

	removed, ok := c.GetRemoved(1)
	require.True(t, ok)
	assert.Equal(t, "shutdown", removed.Reason)
	assert.Equal(t, []int{1}, c.IDsByNickname("alice+1"))

	require.NoError(t, m.EndRun(w.Stats()))
	assert.NoError(t, m.LastError())
}

func TestObserver_StorageErrorIsKept(t *testing.T) {
	store := memory.New(config.MemoryConfig{})
	require.NoError(t, store.StartRun(&core.Run{}))
	m := NewManager(Dependencies{Logger: discard()}, failingBackend{store})

	m.AgentSpawned(1, agent.Snapshot{ID: 1})

	assert.EqualError(t, m.LastError(), "disk full")
}

func TestSnapshotToState(t *testing.T) {
	s := agent.Snapshot{
		ID:       7,
		Position: [3]float64{1, 2, 3},
		SpeedKmh: 4.2,
		Steering: -0.3,
		Lifetime: 99,
	}
	s.Reading.Valid = true
	s.Reading.Error = 0.5
	s.Reading.ErrorRate = -1

	got := SnapshotToState(30, s, fixedNow)

	assert.Equal(t, core.VehicleState{
		VehicleID:        7,
		Tick:             30,
		Time:             fixedNow,
		Position:         core.Position3D{X: 1, Y: 2, Z: 3},
		SpeedKmh:         4.2,
		Steering:         -0.3,
		HasReading:       true,
		LateralError:     0.5,
		LateralErrorRate: -1,
		Lifetime:         99,
	}, got)
}

func TestHandleSpawn(t *testing.T) {
	spawner := &fakeSpawner{}
	m := NewManager(Dependencies{World: spawner, Logger: discard()}, nil)

	res, err := m.handleSpawn(dispatcher.Event{
		Command: CommandSpawn,
		Source:  "ws",
		Payload: json.RawMessage(`{"nickname":"bob","v":"5","Kp":0.4,"Td":"0.1"}`),
	})
	require.NoError(t, err)

	require.Len(t, spawner.reqs, 1)
	req := spawner.reqs[0]
	assert.Equal(t, "ws", req.Source)
	assert.Equal(t, "bob", req.Spec.Nickname)
	assert.Equal(t, 5.0, req.Spec.TargetSpeed)
	assert.Equal(t, mgl64.Vec3{0, 0.5, 0}, req.Spec.Position)
	assert.Equal(t, "bob", res.(parser.Design).Nickname)
}

func TestHandleSpawn_Errors(t *testing.T) {
	m := NewManager(Dependencies{Logger: discard()}, nil)
	_, err := m.handleSpawn(dispatcher.Event{Payload: json.RawMessage(`{"nickname":"x"}`)})
	assert.Error(t, err, "no world")

	m = NewManager(Dependencies{World: &fakeSpawner{}, Logger: discard()}, nil)
	_, err = m.handleSpawn(dispatcher.Event{Payload: json.RawMessage(`[1]`)})
	assert.Error(t, err, "not a design")

	m = NewManager(Dependencies{World: &fakeSpawner{err: sim.ErrSpawnQueueFull}, Logger: discard()}, nil)
	_, err = m.handleSpawn(dispatcher.Event{Payload: json.RawMessage(`{"nickname":"x"}`)})
	assert.ErrorIs(t, err, sim.ErrSpawnQueueFull)
}

func TestRegisterHandlers_SpawnsOnNextTick(t *testing.T) {
	m, store, _, _ := newManager(t, 0)
	require.NoError(t, m.StartRun(&core.Run{Room: "lab", TickRate: 60}))
	w := newWorld(t, sim.WithObserver(m), sim.WithLogger(discard()))
	m.deps.World = w

	d, err := dispatcher.New(nopDispatchLogger{})
	require.NoError(t, err)
	m.RegisterHandlers(d)
	require.True(t, d.HasHandler(CommandSpawn))

	res, err := d.Dispatch(dispatcher.Event{
		Command: CommandSpawn,
		Room:    "lab",
		Source:  "http",
		Payload: json.RawMessage(`{"nickname":"carol","v":5,"Kp":0.5,"Td":0.1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "queued", res)

	// drains the queue into the world
	d.Close()
	assert.Zero(t, w.Stats().Live)

	require.NoError(t, w.Step())
	require.Equal(t, 1, w.Stats().Live)

	rec, ok := store.GetVehicle(1)
	require.True(t, ok)
	assert.Equal(t, "carol", rec.Vehicle.Nickname)
	assert.Equal(t, "http", rec.Vehicle.Source)
}
