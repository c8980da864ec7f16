package monitor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/internal/session"
	"github.com/linetrace/simulator/internal/sim"
	"github.com/linetrace/simulator/internal/storage/memory"
	"github.com/linetrace/simulator/pkg/core"
)

type fakeWorld struct {
	mu    sync.Mutex
	stats sim.Stats
}

func (w *fakeWorld) Stats() sim.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

type fakeQueues map[string]int

func (q fakeQueues) QueueLengths() map[string]int { return q }

type fakeInflux struct {
	mu      sync.Mutex
	buckets []string
	err     error
}

func (f *fakeInflux) WritePoint(bucket string, _ *influxdb2_write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = append(f.buckets, bucket)
	return f.err
}

func (f *fakeInflux) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets)
}

func busyWorld() *fakeWorld {
	return &fakeWorld{stats: sim.Stats{
		Tick:         120,
		Live:         3,
		Spawned:      5,
		Removed:      2,
		Pending:      1,
		Hits:         4,
		Degenerate:   7,
		StepDuration: 1500 * time.Microsecond,
	}}
}

func TestSample(t *testing.T) {
	sess := session.NewContext("lab")
	sess.SetRun(&core.Run{ID: 9})
	s := NewService(Dependencies{
		World:   busyWorld(),
		Session: sess,
		Queues:  fakeQueues{"vehicleStates": 12},
	})

	now := time.Unix(1000, 0)
	status := s.Sample(now)

	assert.Equal(t, "lab", status.Room)
	assert.Equal(t, uint(9), status.RunID)
	assert.Equal(t, 12, status.WriteQueues["vehicleStates"])
	assert.Equal(t, core.Performance{
		Time:       now,
		Tick:       120,
		Live:       3,
		Pending:    1,
		StepMillis: 1.5,
		Spawned:    5,
		Removed:    2,
		Degenerate: 7,
		SensorHits: 4,
	}, status.Performance)
}

func TestRecord_AllSinks(t *testing.T) {
	dir := t.TempDir()
	store := memory.New(config.MemoryConfig{})
	require.NoError(t, store.StartRun(&core.Run{Room: "lab", TickRate: 60}))
	inf := &fakeInflux{}

	s := NewService(Dependencies{
		World:     busyWorld(),
		Session:   session.NewContext("lab"),
		Storage:   store,
		Influx:    inf,
		StatusDir: dir,
	})

	s.Record(time.Now())

	assert.Equal(t, 1, inf.count())

	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	require.NoError(t, err)
	var got Status
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "lab", got.Room)
	assert.Equal(t, uint64(120), got.Performance.Tick)

	_, err = os.Stat(filepath.Join(dir, StatusFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestRecord_SinkErrorDoesNotStopOthers(t *testing.T) {
	dir := t.TempDir()
	s := NewService(Dependencies{
		World:     busyWorld(),
		Influx:    &fakeInflux{err: errors.New("down")},
		StatusDir: dir,
	})

	s.Record(time.Now())

	_, err := os.Stat(filepath.Join(dir, StatusFileName))
	assert.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	inf := &fakeInflux{}
	s := NewService(Dependencies{
		World:    busyWorld(),
		Influx:   inf,
		Interval: 5 * time.Millisecond,
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return inf.count() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()

	n := inf.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, inf.count())
}

func TestStart_SkipsBeforeFirstTick(t *testing.T) {
	inf := &fakeInflux{}
	s := NewService(Dependencies{
		World:    &fakeWorld{},
		Influx:   inf,
		Interval: 2 * time.Millisecond,
	})

	require.NoError(t, s.Start())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	assert.Zero(t, inf.count())
}
