package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/internal/database"
	"github.com/linetrace/simulator/internal/script"
	"github.com/linetrace/simulator/internal/sensor"
	gormstorage "github.com/linetrace/simulator/internal/storage/gorm"
	"github.com/linetrace/simulator/internal/storage/memory"
	wsstorage "github.com/linetrace/simulator/internal/storage/websocket"
	"github.com/linetrace/simulator/pkg/core"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHttpToWS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:5000", "ws://localhost:5000"},
		{"https://results.example.org/", "wss://results.example.org"},
		{"ws://already", "ws://already"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpToWS(tt.in), tt.in)
	}
}

func TestWorldConfig(t *testing.T) {
	cfg, err := worldConfig(
		config.SimConfig{TickRate: 30, LifetimeTicks: 900, FloorY: -2, MaxSpawnQueue: 8},
		config.SensorConfig{Width: 10, Height: 1, Offset: 4, TieBreak: "smallest", Epsilon: 1e-9},
		config.ControlConfig{Kv: 12, SteeringClamp: 0.8},
	)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.TickRate)
	assert.Equal(t, -2.0, cfg.FloorY)
	assert.Equal(t, sensor.KeepSmallest, cfg.Sensor.TieBreak)
	assert.Equal(t, 4.0, cfg.Sensor.Offset)
	assert.Equal(t, 12.0, cfg.Control.Kv)

	_, err = worldConfig(config.SimConfig{}, config.SensorConfig{TieBreak: "median"}, config.ControlConfig{})
	assert.Error(t, err)
}

func TestPhysicsConfig(t *testing.T) {
	got := physicsConfig(config.PhysicsConfig{Wheelbase: 2, Mass: 80, Gravity: 9.8})
	assert.Equal(t, 2.0, got.Wheelbase)
	assert.Equal(t, 80.0, got.Mass)
	assert.Equal(t, 9.8, got.Gravity)
}

func writeScript(t *testing.T, s *script.Script) string {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "course.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestValidateScripts(t *testing.T) {
	good := writeScript(t, script.Default())
	bad := writeScript(t, &script.Script{Commands: []script.Command{{Op: script.OpSpawn}}})

	var out bytes.Buffer
	require.NoError(t, validateScripts(&out, []string{good}))
	// one start point plus two per repeat
	assert.Contains(t, out.String(), "ok, 21 points, 20 segments")

	out.Reset()
	err := validateScripts(&out, []string{good, bad})
	assert.EqualError(t, err, "1 of 2 scripts invalid")
	assert.Contains(t, out.String(), bad+": ")

	assert.Error(t, validateScripts(&out, nil))
}

func TestShareScripts(t *testing.T) {
	path := writeScript(t, script.Default())

	var out bytes.Buffer
	require.NoError(t, shareScripts(&out, []string{path}))

	decoded, err := script.Decode(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, script.Default(), decoded)
}

func TestCreateStorageBackend(t *testing.T) {
	b, err := createStorageBackend(config.StorageConfig{Type: "memory"}, time.Now())
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	b, err = createStorageBackend(config.StorageConfig{Type: "websocket"}, time.Now())
	require.NoError(t, err)
	assert.IsType(t, &wsstorage.Backend{}, b)

	_, err = createStorageBackend(config.StorageConfig{Type: "tape"}, time.Now())
	assert.Error(t, err)
}

func TestUploadExport_Skipped(t *testing.T) {
	mem := memory.New(config.MemoryConfig{OutputDir: t.TempDir()})

	assert.NoError(t, uploadExport(mem, config.APIConfig{Upload: false}))
	// enabled, but nothing exported yet
	assert.NoError(t, uploadExport(mem, config.APIConfig{Upload: true, ServerURL: "http://127.0.0.1:1"}))
}

func recordRun(t *testing.T, finish bool) (*gormstorage.Backend, uint) {
	t.Helper()
	db, err := database.GetSqliteDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, database.Setup(db, discardLogger()))

	b := gormstorage.New(gormstorage.Dependencies{DB: db, Logger: discardLogger(), FlushInterval: time.Hour})
	require.NoError(t, b.Init())

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	run := &core.Run{Room: "lab", StartTime: start, TickRate: 60, Tag: "practice"}
	require.NoError(t, b.StartRun(run))
	require.NoError(t, b.AddVehicle(&core.Vehicle{ID: 1, Nickname: "alice", SpawnTime: start}))
	require.NoError(t, b.RecordVehicleState(&core.VehicleState{VehicleID: 1, Tick: 30, Time: start.Add(500 * time.Millisecond)}))
	require.NoError(t, b.RecordRemoval(&core.Removal{VehicleID: 1, Tick: 45, Reason: "fell"}))

	if finish {
		require.NoError(t, b.EndRun(core.RunEnd{EndTime: start.Add(time.Second), Ticks: 60, Spawned: 1, Removed: 1}))
	}
	require.NoError(t, b.Close())
	return b, run.ID
}

func TestExportRuns(t *testing.T) {
	for _, finish := range []bool{true, false} {
		b, id := recordRun(t, finish)
		dir := t.TempDir()

		var out bytes.Buffer
		require.NoError(t, exportRuns(&out, b.DB(), []string{strconv.FormatUint(uint64(id), 10)},
			config.MemoryConfig{OutputDir: dir, Format: memory.FormatJSON}))

		line := strings.TrimSpace(out.String())
		require.True(t, strings.HasPrefix(line, "run "), line)
		path := line[strings.Index(line, ": ")+2:]
		export, err := memory.ReadExport(path)
		require.NoError(t, err)
		assert.Equal(t, "lab", export.Room)
		require.Len(t, export.Vehicles, 1)
	}
}

func TestExportRuns_BadID(t *testing.T) {
	b, _ := recordRun(t, true)
	var out bytes.Buffer
	assert.Error(t, exportRuns(&out, b.DB(), []string{"abc"}, config.MemoryConfig{OutputDir: t.TempDir()}))
	assert.Error(t, exportRuns(&out, b.DB(), []string{"999"}, config.MemoryConfig{OutputDir: t.TempDir()}))
}

func TestLastRecorded(t *testing.T) {
	start := time.Unix(1000, 0)
	d := &gormstorage.RunData{
		Run:          core.Run{StartTime: start},
		Vehicles:     []core.Vehicle{{ID: 1}, {ID: 2}},
		States:       []core.VehicleState{{Tick: 30, Time: start.Add(time.Second)}},
		Removals:     []core.Removal{{Tick: 50}},
		Performances: []core.Performance{{Tick: 40}},
	}

	assert.Equal(t, core.RunEnd{
		EndTime: start.Add(time.Second),
		Ticks:   50,
		Spawned: 2,
		Removed: 1,
	}, lastRecorded(d))
}

func TestCompileScript(t *testing.T) {
	Logger = discardLogger()

	s, plan := compileScript("")
	assert.Equal(t, script.Default(), s)
	assert.Len(t, plan.Points, 21)

	s, plan = compileScript(filepath.Join(t.TempDir(), "missing.json"))
	assert.Empty(t, s.Commands)
	assert.Empty(t, plan.Points)
	assert.Empty(t, plan.Spawns)

	bad := writeScript(t, &script.Script{Commands: []script.Command{{Op: script.OpSpawn}}})
	_, plan = compileScript(bad)
	assert.Empty(t, plan.Spawns)
}
