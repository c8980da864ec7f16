package control

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGainsFromTd(t *testing.T) {
	g := GainsFromTd(0.5, 4)
	assert.Equal(t, 0.5, g.Kp)
	assert.Equal(t, 2.0, g.Kd)
}

func TestGainsFromTd_Overflow(t *testing.T) {
	g := GainsFromTd(1e300, 1e300)
	assert.Equal(t, 1e300, g.Kp)
	assert.Zero(t, g.Kd)
}

func TestSteering_NonFinite(t *testing.T) {
	inf := math.Inf(1)
	// Inf*0 is NaN
	assert.Zero(t, Steering(Gains{Kp: 1, Kd: inf}, 0, 0, 1))
	// Inf-Inf is NaN
	assert.Zero(t, Steering(Gains{Kp: inf, Kd: inf}, 1, -1, 1))
	// overflow saturates to the clamp
	assert.Equal(t, -1.0, Steering(Gains{Kp: 1e300}, 1e300, 0, 1))
}

func TestEngineForce_NonFinite(t *testing.T) {
	assert.Zero(t, EngineForce(DefaultKv, 1e308, 0))
	assert.Zero(t, EngineForce(math.Inf(1), 5, 5))
}

func TestUpdate_OutputsFinite(t *testing.T) {
	out := DefaultConfig().Update(GainsFromTd(1e300, 1e300), Input{
		TargetSpeed: 1e308,
		HasReading:  true,
		Error:       0,
		ErrorRate:   0,
	})
	for w := range NumWheels {
		assert.False(t, math.IsNaN(out.Steering[w]) || math.IsInf(out.Steering[w], 0), "steering %d", w)
		assert.False(t, math.IsNaN(out.EngineForce[w]) || math.IsInf(out.EngineForce[w], 0), "force %d", w)
	}
}

func TestSteering_Clamped(t *testing.T) {
	// e=2, Kp=1 asks for -2 and is clamped to -1
	assert.Equal(t, -1.0, Steering(Gains{Kp: 1}, 2, 0, 1))
	assert.Equal(t, 1.0, Steering(Gains{Kp: 1}, -2, 0, 1))
}

func TestSteering_Formula(t *testing.T) {
	g := Gains{Kp: 0.1, Kd: 0.05}
	assert.InDelta(t, -(0.1*2+0.05*-3), Steering(g, 2, -3, 1), 1e-12)
}

func TestSteering_WithinClamp(t *testing.T) {
	assert.InDelta(t, -2.0, Steering(Gains{Kp: 1}, 2, 0, 5), 1e-12)
	assert.InDelta(t, -1.0, Steering(Gains{Kp: 1}, 2, 0, -1), 1e-12)
}

func TestEngineForce(t *testing.T) {
	assert.Equal(t, 50.0, EngineForce(DefaultKv, 5, 0))
	assert.Equal(t, 0.0, EngineForce(DefaultKv, 5, 5))
	assert.Equal(t, -20.0, EngineForce(DefaultKv, 5, 7))
}

func TestUpdate_NoReadingNoSteering(t *testing.T) {
	out := DefaultConfig().Update(Gains{Kp: 1, Kd: 1}, Input{
		TargetSpeed: 5,
		Error:       3,
		ErrorRate:   1,
	})

	for w := range NumWheels {
		assert.Zero(t, out.Steering[w])
	}
	assert.Equal(t, 50.0, out.Force())
}

func TestUpdate_WheelLayout(t *testing.T) {
	cfg := Config{Kv: 2, SteeringClamp: 1, Brake: 4}
	out := cfg.Update(Gains{Kp: 0.1}, Input{TargetSpeed: 10, CurrentSpeed: 4, HasReading: true, Error: 2})

	assert.Equal(t, [NumWheels]float64{12, 12, 0, 0}, out.EngineForce)
	assert.Equal(t, [NumWheels]float64{2, 2, 4, 4}, out.Brake)
	assert.InDelta(t, -0.2, out.Steering[FrontLeft], 1e-12)
	assert.InDelta(t, -0.2, out.Steering[FrontRight], 1e-12)
	assert.Zero(t, out.Steering[RearLeft])
	assert.Zero(t, out.Steering[RearRight])
	assert.InDelta(t, -0.2, out.SteeringValue(), 1e-12)
}

func TestUpdate_DefaultBrakeIsZero(t *testing.T) {
	out := DefaultConfig().Update(Gains{}, Input{})
	assert.Equal(t, [NumWheels]float64{}, out.Brake)
}

type recordingActuator struct {
	force, brake, steer [NumWheels]float64
	calls               int
}

func (r *recordingActuator) ApplyEngineForce(f float64, w int) { r.force[w] = f; r.calls++ }
func (r *recordingActuator) SetBrake(b float64, w int)         { r.brake[w] = b; r.calls++ }
func (r *recordingActuator) SetSteeringValue(s float64, w int) { r.steer[w] = s; r.calls++ }

func TestApply(t *testing.T) {
	out := Config{Kv: 1, SteeringClamp: 1, Brake: 2}.Update(Gains{Kp: 0.5}, Input{TargetSpeed: 3, HasReading: true, Error: 1})

	var act recordingActuator
	out.Apply(&act)

	assert.Equal(t, 3*NumWheels, act.calls)
	assert.Equal(t, out.EngineForce, act.force)
	assert.Equal(t, out.Brake, act.brake)
	assert.Equal(t, out.Steering, act.steer)
}
