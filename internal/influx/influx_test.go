package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/pkg/core"
)

func unreachable() config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:  true,
		Host:     "127.0.0.1",
		Port:     "1",
		Protocol: "http",
		Org:      "linetrace",
	}
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop(), filepath.Join(t.TempDir(), "backup.lp.gz"))
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.False(t, m.IsValid)
}

func TestURL(t *testing.T) {
	m := NewManager(unreachable(), zerolog.Nop(), "")
	assert.Equal(t, "http://127.0.0.1:1", m.URL())
}

func TestConnect_FallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.lp.gz")
	m := NewManager(unreachable(), zerolog.Nop(), path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.WritePoint(BucketPerformance, PerformancePoint("abcde", core.Performance{
		Time: ts, Tick: 60, Live: 2, StepMillis: 0.5,
	})))
	require.NoError(t, m.WritePoint(BucketTelemetry, VehicleStatePoint("abcde", "alice", core.VehicleState{
		VehicleID: 3, Tick: 60, Time: ts, SpeedKmh: 4.5, HasReading: true,
	})))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "loop,room=abcde "))
	assert.Contains(t, lines[0], "live=2i")
	assert.True(t, strings.HasPrefix(lines[1], "vehicle,nickname=alice,room=abcde,vehicle=3 "))
	assert.Contains(t, lines[1], "has_reading=true")
}

func TestWritePoint_NoBackend(t *testing.T) {
	m := NewManager(unreachable(), zerolog.Nop(), "")
	err := m.WritePoint(BucketPerformance, influxdb2_write.NewPointWithMeasurement("loop"))
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	m := NewManager(unreachable(), zerolog.Nop(), "")
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestPerformancePoint(t *testing.T) {
	ts := time.Unix(100, 0)
	p := PerformancePoint("room1", core.Performance{Time: ts, Tick: 5, Spawned: 3, Removed: 1})

	assert.Equal(t, "loop", p.Name())
	assert.Equal(t, ts, p.Time())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "room", p.TagList()[0].Key)
	assert.Equal(t, "room1", p.TagList()[0].Value)
	assert.Len(t, p.FieldList(), 8)
}
