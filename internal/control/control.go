// Package control turns sensor readings into wheel actuation with a PD
// steering law and a proportional speed law.
package control

import (
	"math"

	"github.com/samber/lo"
)

// Wheel slots on every vehicle.
const (
	FrontLeft = iota
	FrontRight
	RearLeft
	RearRight
	NumWheels
)

// Default controller constants.
const (
	DefaultKv            = 10.0 // 0.02 * maximum engine force of 500
	DefaultSteeringClamp = 1.0
)

// Gains holds the PD steering gains.
type Gains struct {
	Kp float64 `json:"kp"`
	Kd float64 `json:"kd"`
}

// GainsFromTd builds gains from a proportional gain and derivative time.
// A derivative gain that overflows is dropped to 0.
func GainsFromTd(kp, td float64) Gains {
	kd := kp * td
	if !finite(kd) {
		kd = 0
	}
	return Gains{Kp: kp, Kd: kd}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Config holds the controller constants shared by every vehicle.
type Config struct {
	Kv            float64
	SteeringClamp float64
	// Brake is the base brake force. Front wheels get half of it.
	Brake float64
}

// DefaultConfig returns the stock controller constants.
func DefaultConfig() Config {
	return Config{Kv: DefaultKv, SteeringClamp: DefaultSteeringClamp}
}

// Input is everything the controller needs for one vehicle on one tick.
type Input struct {
	TargetSpeed  float64 // km/h
	CurrentSpeed float64 // km/h
	HasReading   bool
	Error        float64
	ErrorRate    float64
}

// Actuation is the per-wheel output of one control update.
type Actuation struct {
	EngineForce [NumWheels]float64 `json:"engineForce"`
	Brake       [NumWheels]float64 `json:"brake"`
	Steering    [NumWheels]float64 `json:"steering"`
}

// SteeringValue returns the front steering angle.
func (a Actuation) SteeringValue() float64 {
	return a.Steering[FrontLeft]
}

// Force returns the front engine force.
func (a Actuation) Force() float64 {
	return a.EngineForce[FrontLeft]
}

// Steering computes clamp(-(Kp*e + Kd*de), -clamp, clamp). A NaN command
// steers straight.
func Steering(g Gains, e, de, clamp float64) float64 {
	if clamp < 0 {
		clamp = -clamp
	}
	raw := -(g.Kp*e + g.Kd*de)
	if math.IsNaN(raw) {
		return 0
	}
	return lo.Clamp(raw, -clamp, clamp)
}

// EngineForce computes the proportional speed law. No integral term is kept.
// A non-finite result yields no force.
func EngineForce(kv, target, current float64) float64 {
	f := kv * (target - current)
	if !finite(f) {
		return 0
	}
	return f
}

// Update runs the controller for one vehicle. Steering stays at zero until
// the sensor has produced a reading.
func (c Config) Update(g Gains, in Input) Actuation {
	var out Actuation

	force := EngineForce(c.Kv, in.TargetSpeed, in.CurrentSpeed)
	out.EngineForce[FrontLeft] = force
	out.EngineForce[FrontRight] = force

	if in.HasReading {
		steer := Steering(g, in.Error, in.ErrorRate, c.SteeringClamp)
		out.Steering[FrontLeft] = steer
		out.Steering[FrontRight] = steer
	}

	out.Brake[FrontLeft] = c.Brake / 2
	out.Brake[FrontRight] = c.Brake / 2
	out.Brake[RearLeft] = c.Brake
	out.Brake[RearRight] = c.Brake

	return out
}

// Actuator receives wheel commands. Implemented by physics vehicles.
type Actuator interface {
	ApplyEngineForce(force float64, wheel int)
	SetBrake(brake float64, wheel int)
	SetSteeringValue(steering float64, wheel int)
}

// Apply pushes every wheel command to the actuator.
func (a Actuation) Apply(act Actuator) {
	for w := range NumWheels {
		act.ApplyEngineForce(a.EngineForce[w], w)
		act.SetBrake(a.Brake[w], w)
		act.SetSteeringValue(a.Steering[w], w)
	}
}
