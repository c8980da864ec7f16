package agent

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linetrace/simulator/internal/control"
	"github.com/linetrace/simulator/internal/physics"
	"github.com/linetrace/simulator/internal/sensor"
)

func newAgent(t *testing.T, lifetime int) (*Agent, *physics.Model) {
	t.Helper()
	m, err := physics.NewModel(physics.DefaultConfig())
	require.NoError(t, err)

	spec := Spec{Nickname: "alice+42", Position: mgl64.Vec3{0, 0.4, 0}, TargetSpeed: 5, Kp: 1, Td: 0.5}
	v, err := m.AddVehicle(spec.Position, spec.Orientation())
	require.NoError(t, err)

	a := New(1, spec, v, sensor.New(v, sensor.DefaultWidth, sensor.DefaultHeight, sensor.DefaultOffset), lifetime, 0)
	a.OnRelease(func() error { return m.RemoveVehicle(v) })
	return a, m
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"alice+42":   "alice",
		"a+b+c":      "a+b",
		"bob":        "bob",
		"+x":         "",
		"":           "",
		"carol+":     "carol",
		"dave+2+xyz": "dave+2",
	}
	for in, want := range tests {
		assert.Equal(t, want, DisplayName(in), in)
	}
}

func TestNew(t *testing.T) {
	a, _ := newAgent(t, DefaultLifetime)
	assert.Equal(t, "alice", a.Label)
	assert.Equal(t, control.Gains{Kp: 1, Kd: 0.5}, a.Gains)
	assert.True(t, a.Active())
	assert.Equal(t, RemovalReason(""), a.Reason())
}

func TestUpdate_NoReadingNoSteering(t *testing.T) {
	a, _ := newAgent(t, DefaultLifetime)

	out := a.Update(control.DefaultConfig())
	assert.Zero(t, out.SteeringValue())
	assert.Equal(t, 50.0, out.Force())
	assert.Equal(t, DefaultLifetime-1, a.Lifetime)
}

func TestUpdate_SteersFromReading(t *testing.T) {
	a, _ := newAgent(t, DefaultLifetime)
	a.Gains = control.Gains{Kp: 1}
	a.Sensor.HasReading = true
	a.Sensor.LateralError = 2

	out := a.Update(control.DefaultConfig())
	assert.Equal(t, -1.0, out.SteeringValue())
	assert.Equal(t, out, a.Last)
}

func TestLifetime_MonotonicSingleRemoval(t *testing.T) {
	a, m := newAgent(t, 2)
	ctl := control.DefaultConfig()

	var removals int
	prev := a.Lifetime
	for range 5 {
		a.Update(ctl)
		if a.Active() {
			assert.Equal(t, prev-1, a.Lifetime)
			prev = a.Lifetime
		}
		if reason, ok := a.ShouldRemove(-1); ok {
			assert.Equal(t, ReasonExpired, reason)
			require.NoError(t, a.Release(reason))
			removals++
		}
	}

	assert.Equal(t, 1, removals)
	assert.Equal(t, -1, a.Lifetime)
	assert.Equal(t, Removed, a.State())
	assert.Zero(t, m.Count())
}

func TestShouldRemove_Floor(t *testing.T) {
	a, m := newAgent(t, DefaultLifetime)
	_, ok := a.ShouldRemove(-1)
	assert.False(t, ok)

	b, err := m.AddVehicle(mgl64.Vec3{0, -2, 0}, mgl64.QuatIdent())
	require.NoError(t, err)
	a.Vehicle = b

	reason, ok := a.ShouldRemove(-1)
	assert.True(t, ok)
	assert.Equal(t, ReasonFell, reason)
}

func TestRelease_Idempotent(t *testing.T) {
	a, _ := newAgent(t, DefaultLifetime)

	var order []string
	a.OnRelease(func() error { order = append(order, "wheels"); return nil })
	a.OnRelease(func() error { order = append(order, "label"); return nil })

	require.NoError(t, a.Release(ReasonFell))
	require.NoError(t, a.Release(ReasonExpired))

	assert.Equal(t, []string{"label", "wheels"}, order)
	assert.Equal(t, ReasonFell, a.Reason())

	// released agents stay released
	assert.Equal(t, control.Actuation{}, a.Update(control.DefaultConfig()))
	_, ok := a.ShouldRemove(100)
	assert.False(t, ok)
}

func TestRelease_CollectsErrors(t *testing.T) {
	a, _ := newAgent(t, DefaultLifetime)
	boom := errors.New("boom")
	a.OnRelease(func() error { return boom })

	err := a.Release(ReasonShutdown)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Removed, a.State())
}

func TestSnapshot(t *testing.T) {
	a, _ := newAgent(t, DefaultLifetime)
	a.Update(control.DefaultConfig())

	s := a.Snapshot()
	assert.Equal(t, 1, s.ID)
	assert.Equal(t, "alice", s.Label)
	assert.Equal(t, "active", s.State)
	assert.Equal(t, [3]float64{0, 0.4, 0}, s.Position)
	assert.InDelta(t, 0.0, s.Heading, 1e-9)
	assert.Equal(t, 50.0, s.EngineForce)
	assert.False(t, s.Reading.Valid)
}

func TestSpecOrientation(t *testing.T) {
	q := Spec{Heading: 90}.Orientation()
	f := q.Rotate(mgl64.Vec3{0, 0, 1})
	assert.True(t, f.ApproxEqualThreshold(mgl64.Vec3{1, 0, 0}, 1e-9))
}
